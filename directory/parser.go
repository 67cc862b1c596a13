// parser.go - Directory feed parser.
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
	"regexp"
	"strings"
	"time"
)

// A Record is one structured entry extracted from the directory feed.
type Record interface {
	isRecord()
}

// IdentityRecord is a relay's canonical listing line: name, contact
// address and capability tokens.
type IdentityRecord struct {
	Name    string
	Email   string
	Options []string
}

// FreshnessRecord is the feed-wide "Last update" timestamp line.  It is
// metadata only and never touches a relay.
type FreshnessRecord struct {
	Date string
}

// StatsRecord is a relay's runtime statistics line: latency and uptime.
// Malformed latency or uptime tokens default to zero values, they do not
// invalidate the record.
type StatsRecord struct {
	Name    string
	Email   string
	Latency time.Duration
	Uptime  float64
}

func (IdentityRecord) isRecord()  {}
func (FreshnessRecord) isRecord() {}
func (StatsRecord) isRecord()     {}

// The three record shapes are alternatives of a single multi-line
// pattern.  Lines matching none of them are ignored.  The latency and
// uptime tokens are captured loosely here, field-level validation (with
// defaulting, not failure) happens in ParseLatency/ParseUptime.
var feedRe = regexp.MustCompile(`(?m)^(?:` +
	`\$remailer\{"(?P<name>[0-9a-z]+)"\} = "<(?P<email>[0-9a-z]+@[0-9a-z.-]+)>(?P<options>(?: [0-9a-z]+)+)";` +
	`|Last update: (?P<date>.+?)` +
	`|(?P<name2>[0-9a-z]+)\s+(?P<email2>[\w.+-]+@[\w.-]+)\s+[*?+\-#._ ]*\s(?P<latency>[0-9:]+)\s+(?P<uptime>[0-9.]+)%` +
	`)\s*$`)

var (
	idxName    = feedRe.SubexpIndex("name")
	idxEmail   = feedRe.SubexpIndex("email")
	idxOptions = feedRe.SubexpIndex("options")
	idxDate    = feedRe.SubexpIndex("date")
	idxName2   = feedRe.SubexpIndex("name2")
	idxEmail2  = feedRe.SubexpIndex("email2")
	idxLatency = feedRe.SubexpIndex("latency")
	idxUptime  = feedRe.SubexpIndex("uptime")
)

// Parse extracts all records from the raw feed text, in feed order.
// The feed is untrusted and loosely structured, anything that fails to
// match one of the three record shapes is skipped silently.
func Parse(text string) []Record {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var records []Record
	for _, m := range feedRe.FindAllStringSubmatch(text, -1) {
		switch {
		case m[idxName] != "":
			records = append(records, IdentityRecord{
				Name:    m[idxName],
				Email:   m[idxEmail],
				Options: strings.Fields(m[idxOptions]),
			})
		case m[idxDate] != "":
			records = append(records, FreshnessRecord{Date: m[idxDate]})
		case m[idxName2] != "":
			records = append(records, StatsRecord{
				Name:    m[idxName2],
				Email:   m[idxEmail2],
				Latency: ParseLatency(m[idxLatency]),
				Uptime:  ParseUptime(m[idxUptime]),
			})
		}
	}
	return records
}
