// proxy.go - Upstream (outgoing) proxy support.
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

// Package proxy implements the support for an upstream (outgoing) proxy,
// used when pulling the remailer directory feed over Tor or a plain
// SOCKS5 proxy.
package proxy

import (
	"context"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	typeNone      = "none"
	typeSocks5    = "socks5"
	typeTorSocks5 = "tor+socks5"

	maxSocks5AuthLen = 255
)

var torIsolationPrefix string

// Config is the proxy configuration.
type Config struct {
	// Type is the proxy type (Eg: "none", "socks5", "tor+socks5").
	Type string

	// Address is the proxy's TCP address.
	Address string

	// User is the optional proxy username.
	User string

	// Password is the optional proxy password.
	Password string

	auth *proxy.Auth
}

// DialContextFn is a function that matches the Dialer.DialContext prototype.
type DialContextFn func(context.Context, string, string) (net.Conn, error)

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.
func (cfg *Config) FixupAndValidate() error {
	cfg.Type = strings.ToLower(cfg.Type)
	switch cfg.Type {
	case "":
		cfg.Type = typeNone
	case typeNone:
	case typeSocks5, typeTorSocks5:
		uLen, pLen := len(cfg.User), len(cfg.Password)
		if uLen > maxSocks5AuthLen {
			return fmt.Errorf("proxy/config: User too long")
		}
		if pLen > maxSocks5AuthLen {
			return fmt.Errorf("proxy/config: Password too long")
		}
		if (uLen != 0) != (pLen != 0) {
			return fmt.Errorf("proxy/config: Both User and Password must be specified")
		}
		if uLen != 0 {
			if cfg.Type == typeTorSocks5 {
				return fmt.Errorf("proxy/config: Tor SOCKS5 conflicts with setting User/Password")
			}
			cfg.auth = &proxy.Auth{
				User:     cfg.User,
				Password: cfg.Password,
			}
		}
		if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
			return fmt.Errorf("proxy/config: Address '%v' is invalid: %v", cfg.Address, err)
		}
	default:
		return fmt.Errorf("proxy/config: Type '%v' is invalid", cfg.Type)
	}
	return nil
}

// ToDialContext returns a function matching Dialer.DialContext() that will
// utilize the configured proxy, or nil iff no proxy is configured.  The tag
// is used to derive a Tor stream isolation credential.
func (cfg *Config) ToDialContext(tag string) DialContextFn {
	switch cfg.Type {
	case typeNone:
		return nil
	case typeSocks5, typeTorSocks5:
		auth := cfg.auth
		if cfg.Type == typeTorSocks5 {
			// Craft a SOCKSPort isolation entry from the tag, and
			// jam it into the User/Password.
			sum := sha512.Sum512_256([]byte(tag))
			auth = &proxy.Auth{
				User:     torIsolationPrefix + hex.EncodeToString(sum[:16]),
				Password: string([]byte{0x00}),
			}
		}
		return func(ctx context.Context, network, address string) (net.Conn, error) {
			d, err := proxy.SOCKS5("tcp", cfg.Address, auth, proxy.Direct)
			if err != nil {
				return nil, err
			}
			return d.(proxy.ContextDialer).DialContext(ctx, network, address)
		}
	default:
		panic("proxy: ToDialContext(): invalid type: " + cfg.Type)
	}
}

func init() {
	// Initialize the per-process Tor stream isolation tag.
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:], uint64(os.Getpid()))
	binary.BigEndian.PutUint64(buf[8:], uint64(time.Now().Unix()))
	sum := sha512.Sum512_256(buf[:])
	torIsolationPrefix = "remail:" + hex.EncodeToString(sum[:8]) + ":"
}
