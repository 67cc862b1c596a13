// registry.go - Relay registry.
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
	"sort"

	"gopkg.in/op/go-logging.v1"
)

// Registry accumulates directory records into a deduplicated relay map.
// The relay name is the sole identity key, two records for the same name
// coalesce into one Relay.  Accumulation is single-threaded, the registry
// is read-only once the parse pass completes.
type Registry struct {
	relays map[string]*Relay
	log    *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		relays: make(map[string]*Relay),
		log:    log,
	}
}

// Apply folds one record into the registry.  The merge is per-field: a
// record only ever updates the fields it carries, it never resets a field
// populated by an earlier record back to its default.
func (r *Registry) Apply(rec Record) {
	switch rec := rec.(type) {
	case IdentityRecord:
		if relay, ok := r.relays[rec.Name]; ok {
			relay.Options = rec.Options
			if relay.Email == "" {
				relay.Email = rec.Email
			}
		} else {
			r.relays[rec.Name] = &Relay{
				Name:    rec.Name,
				Email:   rec.Email,
				Options: rec.Options,
			}
		}
	case StatsRecord:
		if relay, ok := r.relays[rec.Name]; ok {
			relay.Latency = rec.Latency
			relay.Uptime = rec.Uptime
			if relay.Email == "" {
				relay.Email = rec.Email
			}
		} else {
			r.relays[rec.Name] = &Relay{
				Name:    rec.Name,
				Email:   rec.Email,
				Latency: rec.Latency,
				Uptime:  rec.Uptime,
			}
		}
	case FreshnessRecord:
		r.log.Noticef("Directory feed last updated: %v", rec.Date)
	}
}

// ApplyAll folds a full parse pass into the registry.
func (r *Registry) ApplyAll(recs []Record) {
	for _, rec := range recs {
		r.Apply(rec)
	}
}

// Get returns the relay with the given name, or nil.
func (r *Registry) Get(name string) *Relay {
	return r.relays[name]
}

// Len returns the number of known relays.
func (r *Registry) Len() int {
	return len(r.relays)
}

// Names returns all known relay names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.relays))
	for n := range r.relays {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Relays returns all known relays, ordered by name.
func (r *Registry) Relays() []*Relay {
	out := make([]*Relay, 0, len(r.relays))
	for _, n := range r.Names() {
		out = append(out, r.relays[n])
	}
	return out
}

// Restore seeds the registry from a previously snapshotted relay list.
func (r *Registry) Restore(relays []Relay) {
	for i := range relays {
		relay := relays[i]
		r.relays[relay.Name] = &relay
	}
}
