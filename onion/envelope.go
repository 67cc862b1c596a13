// envelope.go - Nested envelope construction.
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

// Package onion builds the layered cypherpunk message envelope and
// renders it into its external representations.
package onion

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"gopkg.in/op/go-logging.v1"

	"github.com/cypherpunks/remail/pgp"
)

// Envelope is a finished nested, header-annotated ciphertext, immutable
// after creation.
type Envelope []byte

// EncryptError reports an encryption failure at one chain step.  It
// aborts the attempt it occurred in, other attempts are unaffected.
type EncryptError struct {
	// Position is the zero-based index of the failing relay in the
	// resolved chain (forward transmission order).
	Position int

	// Relay is the failing relay's address.
	Relay string

	Err error
}

func (e *EncryptError) Error() string {
	return fmt.Sprintf("onion: encryption at hop %d (%v) failed: %v", e.Position, e.Relay, e.Err)
}

func (e *EncryptError) Unwrap() error {
	return e.Err
}

// Encryptor folds plaintext through the PGP capability once per relay.
type Encryptor struct {
	// PGP is the injected PGP capability.
	PGP pgp.Backend

	// Headers are extra header lines included in every layer's header
	// block.
	Headers []string

	Log *logging.Logger
}

// headerBlock renders the fixed header prefix naming the relay the
// adjacent ciphertext is destined for.
func (e *Encryptor) headerBlock(addr string) []byte {
	var b bytes.Buffer
	b.WriteString("\n::\nAnon-To: ")
	b.WriteString(addr)
	b.WriteByte('\n')
	if len(e.Headers) > 0 {
		b.WriteString(strings.Join(e.Headers, "\n"))
		b.WriteByte('\n')
	}
	b.WriteString("\n::\nEncrypted: PGP\n\n")
	return b.Bytes()
}

// Encrypt builds the envelope for one resolved chain, given in forward
// transmission order (first hop first).  The fold runs from the last
// relay to the first, so the relay opened last is encrypted first and
// the outermost header names the first hop.  Each hop's decryption
// reveals a header naming the next hop and a smaller ciphertext, the
// innermost layer is the plaintext.
func (e *Encryptor) Encrypt(ctx context.Context, chain []string, plaintext []byte) (Envelope, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("onion: empty chain")
	}

	acc := plaintext
	for i := len(chain) - 1; i >= 0; i-- {
		relay := chain[i]
		ct, err := e.PGP.Encrypt(ctx, acc, []string{relay})
		if err != nil {
			return nil, &EncryptError{Position: i, Relay: relay, Err: err}
		}
		e.Log.Debugf("Encrypted layer %d for %v (%d bytes)", i, relay, len(ct))

		block := e.headerBlock(relay)
		next := make([]byte, 0, len(block)+len(ct))
		next = append(next, block...)
		next = append(next, ct...)
		acc = next
	}
	return Envelope(acc), nil
}
