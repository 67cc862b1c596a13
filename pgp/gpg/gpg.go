// gpg.go - PGP backend shelling out to the gpg binary.
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

// Package gpg implements the PGP capability on top of the command-line
// gpg tool, using a private keyring so the user's own keyring is never
// touched.
package gpg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const gpgBinary = "gpg"

// Backend is a PGP backend using the command-line gpg.
type Backend struct {
	keyring string
	quiet   bool
}

// New creates a gpg backend with a fresh private keyring under dir (the
// OS temp dir when empty).
func New(dir string, quiet bool) (*Backend, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	tmp, err := os.MkdirTemp(dir, "remail-keyring-")
	if err != nil {
		return nil, fmt.Errorf("gpg: failed to create keyring dir: %w", err)
	}
	return &Backend{
		keyring: filepath.Join(tmp, "keyring.gpg"),
		quiet:   quiet,
	}, nil
}

// Keyring returns the path of the backend's private keyring file.
func (b *Backend) Keyring() string {
	return b.keyring
}

func (b *Backend) args(rest ...string) []string {
	out := []string{"--no-default-keyring", "--keyring", b.keyring, "--batch"}
	if b.quiet {
		out = append(out, "-q")
	}
	return append(out, rest...)
}

// ImportKey imports one key into the backend's private keyring.
func (b *Backend) ImportKey(ctx context.Context, key []byte) error {
	cmd := exec.CommandContext(ctx, gpgBinary, b.args("--import", "--yes")...)
	cmd.Stdin = bytes.NewReader(key)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("gpg: import failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// Encrypt encrypts plaintext to the recipients, producing ASCII armored
// ciphertext.
func (b *Backend) Encrypt(ctx context.Context, plaintext []byte, recipients []string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("gpg: no recipients")
	}
	args := []string{"-ea", "--trust-model", "always"}
	for _, r := range recipients {
		args = append(args, "-r", r)
	}
	cmd := exec.CommandContext(ctx, gpgBinary, b.args(args...)...)
	cmd.Stdin = bytes.NewReader(plaintext)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gpg: encryption for %v failed: %w: %s", recipients, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
