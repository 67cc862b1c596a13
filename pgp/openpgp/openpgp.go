// openpgp.go - In-process PGP backend.
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

// Package openpgp implements the PGP capability in-process on top of
// golang.org/x/crypto/openpgp, avoiding any external gpg dependency.
package openpgp

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"

	// Register RIPEMD160: openpgp.Encrypt falls back to it for
	// recipients whose keys carry no preferred-hash list.
	_ "golang.org/x/crypto/ripemd160"
)

const messageType = "PGP MESSAGE"

// Backend is an in-process PGP backend holding its keyring in memory.
type Backend struct {
	keyring openpgp.EntityList
}

// New creates an empty in-process backend.
func New() *Backend {
	return &Backend{}
}

// ImportKey adds one key (armored or binary) to the in-memory keyring.
func (b *Backend) ImportKey(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(key))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(key))
	}
	if err != nil {
		return fmt.Errorf("openpgp: unreadable key material: %w", err)
	}
	b.keyring = append(b.keyring, entities...)
	return nil
}

// Encrypt encrypts plaintext to the recipients and returns armored
// ciphertext.
func (b *Backend) Encrypt(ctx context.Context, plaintext []byte, recipients []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("openpgp: no recipients")
	}

	var to []*openpgp.Entity
	for _, r := range recipients {
		ent := b.lookup(r)
		if ent == nil {
			return nil, fmt.Errorf("openpgp: no key for recipient '%v'", r)
		}
		to = append(to, ent)
	}

	var buf bytes.Buffer
	armored, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return nil, fmt.Errorf("openpgp: armor setup failed: %w", err)
	}
	w, err := openpgp.Encrypt(armored, to, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("openpgp: encryption failed: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("openpgp: encryption failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("openpgp: encryption failed: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("openpgp: armor failed: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// lookup finds the keyring entity whose identity matches the given
// address.
func (b *Backend) lookup(addr string) *openpgp.Entity {
	addr = strings.ToLower(addr)
	for _, ent := range b.keyring {
		for _, ident := range ent.Identities {
			if ident.UserId != nil && strings.ToLower(ident.UserId.Email) == addr {
				return ent
			}
			if strings.Contains(strings.ToLower(ident.Name), addr) {
				return ent
			}
		}
	}
	return nil
}
