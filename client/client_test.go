// client_test.go - Client pipeline tests.
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

package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cypherpunks/remail/chain"
	"github.com/cypherpunks/remail/config"
	"github.com/cypherpunks/remail/log"
	"github.com/cypherpunks/remail/onion"
	"github.com/cypherpunks/remail/pgp"
)

const testFeed = `Last update: Fri 13 Sep 2019 10:00:00 GMT
austria  mixmaster@remailer.privacy.at  **********  1:13 100.00%
banana   banana@mixmin.net              **********  2:08  99.99%
$remailer{"austria"} = "<mixmaster@remailer.privacy.at> cpunk mix pgp";
$remailer{"banana"} = "<banana@mixmin.net> cpunk mix pgp";
`

// fakeBackend is a stand-in PGP capability.
type fakeBackend struct {
	encryptFailFor string
	importFailFor  []byte
	imported       [][]byte
}

func (f *fakeBackend) ImportKey(ctx context.Context, key []byte) error {
	if f.importFailFor != nil && string(key) == string(f.importFailFor) {
		return errors.New("fake: bad key")
	}
	f.imported = append(f.imported, key)
	return nil
}

func (f *fakeBackend) Encrypt(ctx context.Context, plaintext []byte, recipients []string) ([]byte, error) {
	if len(recipients) != 1 {
		return nil, fmt.Errorf("fake: expected one recipient, got %d", len(recipients))
	}
	if recipients[0] == f.encryptFailFor {
		return nil, errors.New("fake: key missing")
	}
	out := []byte(recipients[0])
	out = append(out, 0)
	out = append(out, plaintext...)
	return out, nil
}

// scriptedRand replays a fixed draw sequence.
type scriptedRand struct {
	draws []int
	i     int
}

func (s *scriptedRand) Intn(n int) int {
	d := s.draws[s.i%len(s.draws)] % n
	s.i++
	return d
}

func testConfig(t *testing.T, extra string) *config.Config {
	key := "0x00000" + base64.StdEncoding.EncodeToString([]byte("KEY-PARANOIA"))
	cfg, err := config.Load([]byte(`
[Logging]
Disable = true

[[Remailer]]
Name = ["paranoia", "para"]
Email = "remailer@paranoici.org"
Enable = true
Key = "` + key + `"

[[Remailer]]
Name = ["dizum"]
Email = "remailer@dizum.com"
Enable = true

[[Remailer]]
Name = ["broken"]
Email = "broken@example.net"
Enable = false
` + extra))
	require.NoError(t, err)
	return cfg
}

func testClient(t *testing.T, cfg *config.Config, backend pgp.Backend, opts ...Option) *Client {
	logBackend, err := log.NewWithWriter(io.Discard, "DEBUG")
	require.NoError(t, err)
	c, err := New(cfg, backend, logBackend, opts...)
	require.NoError(t, err)
	return c
}

func TestSendRedundancy(t *testing.T) {
	require := require.New(t)

	c := testClient(t, testConfig(t, ""), &fakeBackend{})
	result, err := c.Send(context.Background(), []string{"paranoia", "dizum"}, nil, 3, []byte("hi"))
	require.NoError(err)
	require.Len(result.Envelopes, 3)
	require.Empty(result.Failures)
	require.Empty(result.Dropped)

	for _, env := range result.Envelopes {
		require.True(strings.HasPrefix(string(env), "\n::\nAnon-To: remailer@paranoici.org\n"))
	}
}

func TestSendPartialFailure(t *testing.T) {
	require := require.New(t)

	// Wildcard resolution alternates between the two enabled relays,
	// and encryption to dizum fails.  The failing attempts are reported
	// and discarded, the others are unaffected.
	backend := &fakeBackend{encryptFailFor: "remailer@dizum.com"}
	rng := &scriptedRand{draws: []int{0, 1, 0, 1}}
	c := testClient(t, testConfig(t, ""), backend, WithRand(rng))

	result, err := c.Send(context.Background(), []string{"*"}, nil, 4, []byte("hi"))
	require.NoError(err)
	require.Len(result.Envelopes, 2)
	require.Len(result.Failures, 2)

	var eerr *onion.EncryptError
	require.ErrorAs(result.Failures[0], &eerr)
	require.Equal("remailer@dizum.com", eerr.Relay)
}

func TestSendResolutionFatal(t *testing.T) {
	require := require.New(t)

	c := testClient(t, testConfig(t, ""), &fakeBackend{})
	_, err := c.Send(context.Background(), []string{"tpyo"}, nil, 1, []byte("hi"))

	var rerr *chain.ResolutionError
	require.ErrorAs(err, &rerr)
}

func TestSendSkipsUnknownTokens(t *testing.T) {
	require := require.New(t)

	c := testClient(t, testConfig(t, ""), &fakeBackend{})
	result, err := c.Send(context.Background(), []string{"paranoia", "tpyo"}, nil, 1, []byte("hi"))
	require.NoError(err)
	require.Equal([]string{"tpyo"}, result.Dropped)
	require.Len(result.Envelopes, 1)
}

func TestWildcardExcludesDisabled(t *testing.T) {
	require := require.New(t)

	// Every draw picks index 2, which would be the disabled relay if it
	// were a candidate.  It must not be.
	rng := &scriptedRand{draws: []int{2}}
	c := testClient(t, testConfig(t, ""), &fakeBackend{}, WithRand(rng))

	result, err := c.Send(context.Background(), []string{"*"}, nil, 8, []byte("hi"))
	require.NoError(err)
	for _, env := range result.Envelopes {
		require.NotContains(string(env), "broken@example.net")
	}
}

func TestImportKeysBestEffort(t *testing.T) {
	require := require.New(t)

	backend := &fakeBackend{importFailFor: []byte("KEY-PARANOIA")}
	c := testClient(t, testConfig(t, ""), backend)

	failures := c.ImportKeys(context.Background())
	require.Len(failures, 1)

	var kerr *pgp.KeyImportError
	require.ErrorAs(failures[0], &kerr)
	require.Equal("paranoia", kerr.Name)

	// A failed import does not prevent sending.
	result, err := c.Send(context.Background(), []string{"dizum"}, nil, 1, []byte("hi"))
	require.NoError(err)
	require.Len(result.Envelopes, 1)
}

func TestImportKeysRecordsMaterial(t *testing.T) {
	require := require.New(t)

	backend := &fakeBackend{}
	c := testClient(t, testConfig(t, ""), backend)

	failures := c.ImportKeys(context.Background())
	require.Empty(failures)
	require.Len(backend.imported, 1, "only paranoia carries key material")

	relay := c.Registry().Get("paranoia")
	require.NotNil(relay)
	require.Len(relay.Keys, 1)
	require.Equal("KEY-PARANOIA", string(relay.Keys[0]))
}

func TestUpdateDirectory(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testFeed))
	}))
	defer srv.Close()

	cfg := testConfig(t, "[Directory]\nStatsSource = \""+srv.URL+"/\"\n")
	c := testClient(t, cfg, &fakeBackend{})

	require.NoError(c.UpdateDirectory(context.Background()))
	require.NotNil(c.Registry().Get("austria"))
	require.NotNil(c.Registry().Get("banana"))

	// Feed relays become wildcard candidates alongside the configured
	// ones.
	resolverAddrs := c.candidates()
	require.Contains(resolverAddrs, "mixmaster@remailer.privacy.at")
	require.Contains(resolverAddrs, "remailer@paranoici.org")
	require.NotContains(resolverAddrs, "broken@example.net")
}

func TestUpdateDirectoryCacheFallback(t *testing.T) {
	require := require.New(t)

	cachePath := filepath.Join(t.TempDir(), "directory.db")

	// First run: feed reachable, snapshot stored.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testFeed))
	}))
	cfg := testConfig(t, "[Directory]\nStatsSource = \""+srv.URL+"/\"\nCacheFile = \""+cachePath+"\"\nFetchTimeout = 2\n")
	c := testClient(t, cfg, &fakeBackend{})
	require.NoError(c.UpdateDirectory(context.Background()))
	srv.Close()

	// Second run: feed gone, the snapshot takes over.
	cfg2 := testConfig(t, "[Directory]\nStatsSource = \"http://127.0.0.1:1/\"\nCacheFile = \""+cachePath+"\"\nFetchTimeout = 2\n")
	c2 := testClient(t, cfg2, &fakeBackend{})
	require.NoError(c2.UpdateDirectory(context.Background()))
	require.NotNil(c2.Registry().Get("austria"))

	// Third run: feed gone and no cache configured, the fetch failure
	// is fatal.
	cfg3 := testConfig(t, "[Directory]\nStatsSource = \"http://127.0.0.1:1/\"\nFetchTimeout = 2\n")
	c3 := testClient(t, cfg3, &fakeBackend{})
	require.Error(c3.UpdateDirectory(context.Background()))
}
