// openpgp_test.go - In-process PGP backend tests.
// Copyright (C) 2024  The remail authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package openpgp

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
)

func newTestEntity(t *testing.T, name, email string) (*openpgp.Entity, []byte) {
	ent, err := openpgp.NewEntity(name, "", email, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, ent.Serialize(w))
	require.NoError(t, w.Close())
	return ent, buf.Bytes()
}

func TestImportAndEncrypt(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ent, pub := newTestEntity(t, "banana", "banana@mixmin.net")

	b := New()
	require.NoError(b.ImportKey(ctx, pub))

	plaintext := []byte("the eagle has landed")
	ct, err := b.Encrypt(ctx, plaintext, []string{"banana@mixmin.net"})
	require.NoError(err)
	require.True(strings.HasPrefix(string(ct), "-----BEGIN PGP MESSAGE-----"))

	// The private half decrypts the armored message back to the exact
	// plaintext.
	block, err := armor.Decode(bytes.NewReader(ct))
	require.NoError(err)
	md, err := openpgp.ReadMessage(block.Body, openpgp.EntityList{ent}, nil, nil)
	require.NoError(err)
	got, err := io.ReadAll(md.UnverifiedBody)
	require.NoError(err)
	require.Equal(plaintext, got)
}

func TestEncryptUnknownRecipient(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	_, pub := newTestEntity(t, "banana", "banana@mixmin.net")
	b := New()
	require.NoError(b.ImportKey(ctx, pub))

	_, err := b.Encrypt(ctx, []byte("x"), []string{"nobody@example.org"})
	require.Error(err)

	_, err = b.Encrypt(ctx, []byte("x"), nil)
	require.Error(err)
}

func TestImportGarbage(t *testing.T) {
	require := require.New(t)

	b := New()
	err := b.ImportKey(context.Background(), []byte("not a key"))
	require.Error(err)
}

func TestContextCancellation(t *testing.T) {
	require := require.New(t)

	_, pub := newTestEntity(t, "banana", "banana@mixmin.net")
	b := New()
	require.NoError(b.ImportKey(context.Background(), pub))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Encrypt(ctx, []byte("x"), []string{"banana@mixmin.net"})
	require.ErrorIs(err, context.Canceled)
}
