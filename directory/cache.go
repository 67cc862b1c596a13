// cache.go - Directory snapshot cache.
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
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

const (
	cacheBucket = "directory"

	relaysKey  = "relays"
	updatedKey = "updated"
)

// ErrNoSnapshot is returned when the cache holds no usable snapshot.
var ErrNoSnapshot = errors.New("directory: no cached snapshot")

// Cache persists the most recent good directory snapshot, so a run can
// proceed when the statistics site is unreachable.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating as needed) the snapshot database at path.
func OpenCache(path string) (*Cache, error) {
	const fileMode = 0600
	db, err := bolt.Open(path, fileMode, nil)
	if err != nil {
		return nil, fmt.Errorf("directory: failed to open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close flushes and closes the snapshot database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Store replaces the cached snapshot with the registry's current relays
// and the feed's freshness string.
func (c *Cache) Store(reg *Registry, updated string) error {
	relays := make([]Relay, 0, reg.Len())
	for _, r := range reg.Relays() {
		relays = append(relays, *r)
	}
	blob, err := cbor.Marshal(relays)
	if err != nil {
		return fmt.Errorf("directory: failed to serialize snapshot: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(cacheBucket))
		if err != nil {
			return err
		}
		if err := bkt.Put([]byte(relaysKey), blob); err != nil {
			return err
		}
		return bkt.Put([]byte(updatedKey), []byte(updated))
	})
}

// Load returns the cached relay snapshot and its freshness string.
func (c *Cache) Load() ([]Relay, string, error) {
	var blob []byte
	var updated string
	err := c.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(cacheBucket))
		if bkt == nil {
			return ErrNoSnapshot
		}
		b := bkt.Get([]byte(relaysKey))
		if b == nil {
			return ErrNoSnapshot
		}
		blob = append([]byte(nil), b...)
		updated = string(bkt.Get([]byte(updatedKey)))
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	var relays []Relay
	if err := cbor.Unmarshal(blob, &relays); err != nil {
		return nil, "", fmt.Errorf("directory: corrupt snapshot: %w", err)
	}
	return relays, updated, nil
}
