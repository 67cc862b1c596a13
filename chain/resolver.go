// resolver.go - Chain specification resolution.
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

// Package chain resolves user chain specifications into concrete ordered
// relay address lists.
package chain

import (
	"fmt"
	"strings"

	"gopkg.in/op/go-logging.v1"
	"lukechampine.com/frand"
)

// Wildcard is the chain token resolved to a randomly drawn relay.
const Wildcard = "*"

// Rand is the randomness source used for wildcard draws.  It is always
// passed in explicitly so resolution is reproducible under test with a
// seeded source.
type Rand interface {
	Intn(n int) int
}

// DefaultRand returns the production randomness source.
func DefaultRand() Rand {
	return frand.New()
}

// ResolutionError indicates that a resolution attempt produced an empty
// chain.  An attempt may not silently produce zero hops.
type ResolutionError struct {
	Attempt int
	Tokens  []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("chain: attempt %d resolved to an empty chain (spec: %v)", e.Attempt, e.Tokens)
}

// Resolution is the output of a Resolve call.
type Resolution struct {
	// Chains holds one resolved relay address list per redundancy
	// attempt, in the token order given by the caller.
	Chains [][]string

	// Dropped lists the literal tokens that matched no known relay and
	// were skipped, so callers can decide to treat a typo as fatal.
	Dropped []string
}

// Resolver resolves chain tokens against the set of known relays.
type Resolver struct {
	// Candidates are the addresses of the known, enabled relays that
	// wildcard tokens draw from.
	Candidates []string

	// Aliases maps lowercased relay names and aliases to addresses.
	Aliases map[string]string

	Log *logging.Logger
}

// Resolve walks the chain tokens once per redundancy attempt.  Wildcards
// are drawn uniformly at random with replacement, independently per
// occurrence and per attempt.  Unknown literal tokens are skipped with a
// diagnostic rather than failing the run, but an attempt that ends up
// with zero hops fails the whole call.
func (r *Resolver) Resolve(tokens []string, redundancy int, rng Rand) (*Resolution, error) {
	if redundancy < 1 {
		return nil, fmt.Errorf("chain: redundancy %d is not positive", redundancy)
	}
	if len(tokens) == 0 {
		return nil, &ResolutionError{Attempt: 1, Tokens: tokens}
	}

	res := &Resolution{Chains: make([][]string, 0, redundancy)}
	dropped := make(map[string]bool)

	for attempt := 1; attempt <= redundancy; attempt++ {
		resolved := make([]string, 0, len(tokens))
		for _, tok := range tokens {
			switch {
			case tok == Wildcard:
				if len(r.Candidates) == 0 {
					r.Log.Warningf("No wildcard candidates available, dropping '%v'", tok)
					if !dropped[tok] {
						dropped[tok] = true
						res.Dropped = append(res.Dropped, tok)
					}
					continue
				}
				resolved = append(resolved, r.Candidates[rng.Intn(len(r.Candidates))])
			default:
				addr, ok := r.Aliases[strings.ToLower(tok)]
				if !ok {
					r.Log.Warningf("Unknown remailer '%v', dropping it from the chain", tok)
					if !dropped[tok] {
						dropped[tok] = true
						res.Dropped = append(res.Dropped, tok)
					}
					continue
				}
				resolved = append(resolved, addr)
			}
		}
		if len(resolved) == 0 {
			return nil, &ResolutionError{Attempt: attempt, Tokens: tokens}
		}
		res.Chains = append(res.Chains, resolved)
	}
	return res, nil
}
