// relay.go - Remailer relay descriptors.
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

// Package directory implements the remailer directory feed parser and
// the relay registry accumulated from it.
package directory

import (
	"regexp"
	"strconv"
	"time"
)

// Relay is a single remailer known to the registry.  Instances are owned
// by the Registry that created them and are updated in place as further
// directory records for the same name arrive.
type Relay struct {
	// Name is the relay's short name, the sole identity key.
	Name string

	// Email is the relay's contact address, used as the PGP recipient id.
	Email string

	// Options is the relay's capability token list, as listed in the
	// directory feed.  Order carries no meaning.
	Options []string

	// Latency is the relay's reported forwarding latency.
	Latency time.Duration

	// Uptime is the relay's reported uptime percentage, 0.0 to 100.0.
	Uptime float64

	// Keys holds imported key material for the relay, may be empty.
	Keys [][]byte
}

func (r *Relay) String() string {
	return r.Name
}

// AddKey appends raw key material to the relay.
func (r *Relay) AddKey(key []byte) {
	r.Keys = append(r.Keys, key)
}

var latencyRe = regexp.MustCompile(`^(?:(\d+):)?([0-5]?\d):([0-5]\d)$`)

// ParseLatency converts a feed latency token of the form [[hh:]mm:]ss
// into a duration.  Minutes and seconds are bounded below 60.  A token
// that does not fit the grammar yields a zero duration, the enclosing
// record is not aborted.
func ParseLatency(s string) time.Duration {
	m := latencyRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	var secs int64
	if m[1] != "" {
		h, _ := strconv.ParseInt(m[1], 10, 64)
		secs += h * 3600
	}
	mm, _ := strconv.ParseInt(m[2], 10, 64)
	ss, _ := strconv.ParseInt(m[3], 10, 64)
	secs += mm*60 + ss
	return time.Duration(secs) * time.Second
}

// ParseUptime converts a feed uptime percentage token into a float.
// A malformed value yields 0.0.
func ParseUptime(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0.0
	}
	return v
}
