// cache_test.go - Directory snapshot cache tests.
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

package directory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	require := require.New(t)

	reg := testRegistry(t)
	reg.Apply(IdentityRecord{Name: "austria", Email: "mixmaster@remailer.privacy.at", Options: []string{"cpunk"}})
	reg.Apply(StatsRecord{Name: "austria", Email: "mixmaster@remailer.privacy.at", Latency: 73 * time.Second, Uptime: 100.0})
	reg.Apply(IdentityRecord{Name: "banana", Email: "banana@mixmin.net", Options: []string{"mix"}})

	path := filepath.Join(t.TempDir(), "directory.db")
	cache, err := OpenCache(path)
	require.NoError(err)
	require.NoError(cache.Store(reg, "Fri 13 Sep 2019 10:00:00 GMT"))
	require.NoError(cache.Close())

	cache, err = OpenCache(path)
	require.NoError(err)
	defer cache.Close()

	relays, updated, err := cache.Load()
	require.NoError(err)
	require.Equal("Fri 13 Sep 2019 10:00:00 GMT", updated)
	require.Len(relays, 2)

	restored := testRegistry(t)
	restored.Restore(relays)
	austria := restored.Get("austria")
	require.NotNil(austria)
	require.Equal(73*time.Second, austria.Latency)
	require.Equal(100.0, austria.Uptime)
	require.Equal([]string{"cpunk"}, austria.Options)
}

func TestCacheEmpty(t *testing.T) {
	require := require.New(t)

	cache, err := OpenCache(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(err)
	defer cache.Close()

	_, _, err = cache.Load()
	require.ErrorIs(err, ErrNoSnapshot)
}
