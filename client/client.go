// client.go - Remail client.
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

// Package client ties the directory, chain resolution and onion
// encryption pipeline together behind one object.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/cypherpunks/remail/chain"
	"github.com/cypherpunks/remail/config"
	"github.com/cypherpunks/remail/directory"
	"github.com/cypherpunks/remail/log"
	"github.com/cypherpunks/remail/onion"
	"github.com/cypherpunks/remail/pgp"
)

// Client is a remail client instance.
type Client struct {
	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger

	registry *directory.Registry
	pgp      pgp.Backend
	rng      chain.Rand

	// updated is the feed freshness string of the current registry
	// contents, empty when no feed or snapshot was loaded yet.
	updated string
}

// Option overrides a Client default, for composition and tests.
type Option func(*Client)

// WithRand replaces the wildcard randomness source.
func WithRand(rng chain.Rand) Option {
	return func(c *Client) { c.rng = rng }
}

// New constructs a Client around the injected PGP capability.  The
// backend is wrapped with the configured per-call timeout.
func New(cfg *config.Config, backend pgp.Backend, logBackend *log.Backend, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client: no configuration provided")
	}
	if backend == nil {
		return nil, errors.New("client: no PGP backend provided")
	}

	c := &Client{
		cfg:        cfg,
		logBackend: logBackend,
		log:        logBackend.GetLogger("client"),
		pgp:        pgp.WithTimeout(backend, time.Duration(cfg.PGP.Timeout)*time.Second),
		rng:        chain.DefaultRand(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Seed the registry from the configured remailers so literal chain
	// tokens resolve even before a feed fetch.
	c.registry = directory.NewRegistry(logBackend.GetLogger("directory"))
	for _, r := range cfg.Remailer {
		c.registry.Apply(directory.IdentityRecord{
			Name:  strings.ToLower(r.Name[0]),
			Email: r.Email,
		})
	}
	return c, nil
}

// Registry exposes the accumulated relay registry.
func (c *Client) Registry() *directory.Registry {
	return c.registry
}

// ImportKeys feeds the configured key material of every enabled remailer
// to the PGP capability.  Failures are per-key: they are collected,
// logged and returned, never fatal.
func (c *Client) ImportKeys(ctx context.Context) []error {
	var failures []error
	for _, r := range c.cfg.EnabledRemailers() {
		key, err := r.KeyMaterial()
		if err == nil && key == nil {
			continue
		}
		if err == nil {
			err = c.pgp.ImportKey(ctx, key)
		}
		if err != nil {
			kerr := &pgp.KeyImportError{Name: r.Name[0], Err: err}
			c.log.Warningf("%v", kerr)
			failures = append(failures, kerr)
			continue
		}
		if relay := c.registry.Get(strings.ToLower(r.Name[0])); relay != nil {
			relay.AddKey(key)
		}
		c.log.Debugf("Imported key for '%v'", r.Name[0])
	}
	return failures
}

// UpdateDirectory pulls the directory feed, folds it into the registry
// and refreshes the snapshot cache.  When the fetch fails and a cache is
// configured, the last good snapshot is used instead; with no cache the
// fetch failure is fatal to the run.
func (c *Client) UpdateDirectory(ctx context.Context) error {
	fetcher := &directory.Fetcher{
		StatsSource: c.cfg.Directory.StatsSource,
		Timeout:     time.Duration(c.cfg.Directory.FetchTimeout) * time.Second,
		Proxy:       c.cfg.Proxy,
	}
	text, err := fetcher.Fetch(ctx)
	if err != nil {
		if c.cfg.Directory.CacheFile == "" {
			return err
		}
		c.log.Warningf("Feed fetch failed, falling back to cached snapshot: %v", err)
		if cerr := c.LoadCachedDirectory(); cerr != nil {
			return fmt.Errorf("client: feed unreachable and no usable snapshot: %w", errors.Join(err, cerr))
		}
		return nil
	}

	records := directory.Parse(text)
	for _, rec := range records {
		if fr, ok := rec.(directory.FreshnessRecord); ok {
			c.updated = fr.Date
		}
		c.registry.Apply(rec)
	}
	c.log.Noticef("Directory feed applied: %d records, %d relays known", len(records), c.registry.Len())

	if c.cfg.Directory.CacheFile != "" {
		cache, err := directory.OpenCache(c.cfg.Directory.CacheFile)
		if err != nil {
			c.log.Warningf("Snapshot cache unavailable: %v", err)
			return nil
		}
		defer cache.Close()
		if err := cache.Store(c.registry, c.updated); err != nil {
			c.log.Warningf("Snapshot store failed: %v", err)
		}
	}
	return nil
}

// LoadCachedDirectory restores the registry from the snapshot cache
// without touching the network.
func (c *Client) LoadCachedDirectory() error {
	if c.cfg.Directory.CacheFile == "" {
		return errors.New("client: no snapshot cache configured")
	}
	cache, err := directory.OpenCache(c.cfg.Directory.CacheFile)
	if err != nil {
		return err
	}
	defer cache.Close()

	relays, updated, err := cache.Load()
	if err != nil {
		return err
	}
	c.registry.Restore(relays)
	c.updated = updated
	c.log.Noticef("Restored %d relays from snapshot (feed updated: %v)", len(relays), updated)
	return nil
}

// SendResult is the outcome of one Send call.
type SendResult struct {
	// Envelopes holds the finished envelope of every successful attempt.
	Envelopes []onion.Envelope

	// Dropped lists the chain tokens skipped during resolution.
	Dropped []string

	// Failures holds the per-attempt encryption errors.  An attempt
	// never yields a partial envelope.
	Failures []error
}

// Send resolves the chain tokens once per redundancy attempt and
// encrypts the plaintext through each resolved chain.  Resolution
// failure is fatal to the call, per-attempt encryption failures only
// discard that attempt.
func (c *Client) Send(ctx context.Context, tokens []string, headers []string, redundancy int, plaintext []byte) (*SendResult, error) {
	resolver := &chain.Resolver{
		Candidates: c.candidates(),
		Aliases:    c.aliases(),
		Log:        c.logBackend.GetLogger("chain"),
	}
	resolution, err := resolver.Resolve(tokens, redundancy, c.rng)
	if err != nil {
		return nil, err
	}
	for _, tok := range resolution.Dropped {
		c.log.Warningf("Chain token '%v' matched no known remailer and was skipped", tok)
	}

	encryptor := &onion.Encryptor{
		PGP:     c.pgp,
		Headers: headers,
		Log:     c.logBackend.GetLogger("onion"),
	}

	result := &SendResult{Dropped: resolution.Dropped}
	for i, resolved := range resolution.Chains {
		env, err := encryptor.Encrypt(ctx, resolved, plaintext)
		if err != nil {
			c.log.Errorf("Attempt %d/%d failed: %v", i+1, redundancy, err)
			result.Failures = append(result.Failures, err)
			continue
		}
		c.log.Infof("Attempt %d/%d: envelope of %d bytes via %v", i+1, redundancy, len(env), strings.Join(resolved, ","))
		result.Envelopes = append(result.Envelopes, env)
	}
	return result, nil
}

// candidates returns the addresses wildcard tokens may draw from: every
// known relay not disabled in the configuration.
func (c *Client) candidates() []string {
	disabled := make(map[string]bool)
	for _, r := range c.cfg.Remailer {
		if !r.Enable {
			disabled[strings.ToLower(r.Email)] = true
		}
	}

	var out []string
	for _, relay := range c.registry.Relays() {
		if relay.Email == "" || disabled[strings.ToLower(relay.Email)] {
			continue
		}
		out = append(out, relay.Email)
	}
	return out
}

// aliases merges the configured alias map with the registry's relay
// names.
func (c *Client) aliases() map[string]string {
	m := c.cfg.AliasMap()
	for _, relay := range c.registry.Relays() {
		name := strings.ToLower(relay.Name)
		if _, ok := m[name]; !ok && relay.Email != "" {
			m[name] = relay.Email
		}
	}
	return m
}
