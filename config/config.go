// config.go - Remail client configuration.
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

// Package config implements the configuration for the remail client.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/cypherpunks/remail/internal/proxy"
)

const (
	defaultLogLevel     = "NOTICE"
	defaultStatsSource  = "https://remailer.paranoici.org/"
	defaultFetchTimeout = 30
	defaultPGPBackend   = "gpg"
	defaultPGPTimeout   = 30

	// keyPrefixLen is the length of the fixed non-key-data prefix
	// carried by the Key field of a Remailer entry.
	keyPrefixLen = 7
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Directory is the remailer directory feed configuration.
type Directory struct {
	// StatsSource is the base URL of the remailer statistics site.
	// The feed is pulled from StatsSource + "rlist.txt".
	StatsSource string

	// CacheFile is the optional path of the local directory snapshot
	// database, used when the feed is unreachable.
	CacheFile string

	// FetchTimeout is the feed fetch timeout in seconds.
	FetchTimeout int
}

func (dCfg *Directory) applyDefaults() {
	if dCfg.StatsSource == "" {
		dCfg.StatsSource = defaultStatsSource
	}
	if dCfg.FetchTimeout <= 0 {
		dCfg.FetchTimeout = defaultFetchTimeout
	}
}

func (dCfg *Directory) validate() error {
	if !strings.HasPrefix(dCfg.StatsSource, "http://") && !strings.HasPrefix(dCfg.StatsSource, "https://") {
		return fmt.Errorf("config: Directory: StatsSource '%v' is not a http(s) URL", dCfg.StatsSource)
	}
	return nil
}

// PGP selects and tunes the PGP capability backend.
type PGP struct {
	// Backend is the PGP implementation to use ("gpg" or "openpgp").
	Backend string

	// Timeout is the per capability call timeout in seconds.
	Timeout int
}

func (pCfg *PGP) applyDefaults() {
	if pCfg.Backend == "" {
		pCfg.Backend = defaultPGPBackend
	}
	if pCfg.Timeout <= 0 {
		pCfg.Timeout = defaultPGPTimeout
	}
}

func (pCfg *PGP) validate() error {
	switch strings.ToLower(pCfg.Backend) {
	case "gpg", "openpgp":
	default:
		return fmt.Errorf("config: PGP: Backend '%v' is invalid", pCfg.Backend)
	}
	pCfg.Backend = strings.ToLower(pCfg.Backend)
	return nil
}

// Remailer is a persisted relay configuration record.
type Remailer struct {
	// Name is the list of names the remailer is known by, the first
	// entry being canonical and the remainder aliases.
	Name []string

	// Email is the remailer's contact address, used as the PGP
	// recipient id.
	Email string

	// Enable includes the remailer in key import and in wildcard
	// candidate selection.
	Enable bool

	// Key is the remailer's public key material: a fixed-length
	// non-key-data prefix followed by base64 encoded key data.
	Key string
}

func (rCfg *Remailer) validate() error {
	if len(rCfg.Name) == 0 {
		return errors.New("config: Remailer: no Name entries")
	}
	for _, n := range rCfg.Name {
		if n == "" {
			return fmt.Errorf("config: Remailer '%v': empty Name entry", rCfg.Email)
		}
	}
	if rCfg.Email == "" {
		return fmt.Errorf("config: Remailer '%v': missing Email", rCfg.Name[0])
	}
	if rCfg.Key != "" {
		if _, err := rCfg.KeyMaterial(); err != nil {
			return err
		}
	}
	return nil
}

// KeyMaterial strips the fixed-length prefix from the Key field and
// decodes the remaining base64 key data.
func (rCfg *Remailer) KeyMaterial() ([]byte, error) {
	if rCfg.Key == "" {
		return nil, nil
	}
	if len(rCfg.Key) <= keyPrefixLen {
		return nil, fmt.Errorf("config: Remailer '%v': Key shorter than its %d byte prefix", rCfg.Name[0], keyPrefixLen)
	}
	raw, err := base64.StdEncoding.DecodeString(rCfg.Key[keyPrefixLen:])
	if err != nil {
		return nil, fmt.Errorf("config: Remailer '%v': malformed Key: %v", rCfg.Name[0], err)
	}
	return raw, nil
}

// Config is the top level remail configuration.
type Config struct {
	Logging   *Logging
	Directory *Directory
	Proxy     *proxy.Config
	PGP       *PGP
	Remailer  []*Remailer
}

// AliasMap returns the mapping from every lowercased remailer name and
// alias to the remailer's address.  Disabled remailers are included, a
// user who names one explicitly gets what was asked for.
func (cfg *Config) AliasMap() map[string]string {
	m := make(map[string]string)
	for _, r := range cfg.Remailer {
		for _, n := range r.Name {
			m[strings.ToLower(n)] = r.Email
		}
	}
	return m
}

// EnabledRemailers returns the remailers usable for wildcard selection
// and key import.
func (cfg *Config) EnabledRemailers() []*Remailer {
	var out []*Remailer
	for _, r := range cfg.Remailer {
		if r.Enable {
			out = append(out, r)
		}
	}
	return out
}

// FixupAndValidate applies defaults to the configuration and validates it.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Directory == nil {
		cfg.Directory = &Directory{}
	}
	if cfg.Proxy == nil {
		cfg.Proxy = &proxy.Config{}
	}
	if cfg.PGP == nil {
		cfg.PGP = &PGP{}
	}
	cfg.Directory.applyDefaults()
	cfg.PGP.applyDefaults()

	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if err := cfg.Directory.validate(); err != nil {
		return err
	}
	if err := cfg.Proxy.FixupAndValidate(); err != nil {
		return err
	}
	if err := cfg.PGP.validate(); err != nil {
		return err
	}
	seen := make(map[string]string)
	for _, r := range cfg.Remailer {
		if err := r.validate(); err != nil {
			return err
		}
		for _, n := range r.Name {
			lower := strings.ToLower(n)
			if prev, ok := seen[lower]; ok && prev != r.Email {
				return fmt.Errorf("config: Remailer name '%v' claimed by both %v and %v", n, prev, r.Email)
			}
			seen[lower] = r.Email
		}
	}
	return nil
}

// Load parses and validates cfg and returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: no nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
