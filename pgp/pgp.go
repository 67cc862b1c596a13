// pgp.go - PGP capability contract.
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

// Package pgp defines the PGP capability the encryption pipeline depends
// on.  The concrete implementation is selected and injected at process
// composition time.
package pgp

import (
	"context"
	"fmt"
	"time"
)

// Backend is a PGP implementation capable of importing keys and
// encrypting to recipients.  Implementations may shell out to external
// processes with unbounded latency, both operations must honor ctx.
type Backend interface {
	// ImportKey imports one key into the backend's keyring.
	ImportKey(ctx context.Context, key []byte) error

	// Encrypt encrypts plaintext to the given recipient set and returns
	// the ciphertext.  The chain encryption pipeline always supplies
	// exactly one recipient per call.
	Encrypt(ctx context.Context, plaintext []byte, recipients []string) ([]byte, error)
}

// KeyImportError is a per-key import failure.  Import failures are
// collected and logged, never fatal to the overall run.
type KeyImportError struct {
	Name string
	Err  error
}

func (e *KeyImportError) Error() string {
	return fmt.Sprintf("pgp: key import for '%v' failed: %v", e.Name, e.Err)
}

func (e *KeyImportError) Unwrap() error {
	return e.Err
}

// WithTimeout wraps a backend so every capability call is bounded by d.
// Backends may invoke external processes, an unbounded hang would
// otherwise stall the whole run.
func WithTimeout(b Backend, d time.Duration) Backend {
	return &timeoutBackend{inner: b, d: d}
}

type timeoutBackend struct {
	inner Backend
	d     time.Duration
}

func (t *timeoutBackend) ImportKey(ctx context.Context, key []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.ImportKey(ctx, key)
}

func (t *timeoutBackend) Encrypt(ctx context.Context, plaintext []byte, recipients []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.Encrypt(ctx, plaintext, recipients)
}
