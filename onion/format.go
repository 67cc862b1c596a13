// format.go - Envelope output representations.
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

package onion

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Mode selects an envelope output representation.
type Mode int

const (
	// Cypherpunk is the raw envelope, ready to paste into a mail body.
	Cypherpunk Mode = iota

	// Mailto renders a mailto: URL addressed to the first hop.
	Mailto

	// EML renders a minimal RFC 822 style message.
	EML
)

// ParseMode converts a mode name as accepted on the command line.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "cypherpunk":
		return Cypherpunk, nil
	case "mailto":
		return Mailto, nil
	case "eml":
		return EML, nil
	default:
		return Cypherpunk, fmt.Errorf("onion: unknown output mode '%v'", s)
	}
}

func (m Mode) String() string {
	switch m {
	case Cypherpunk:
		return "cypherpunk"
	case Mailto:
		return "mailto"
	case EML:
		return "eml"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// FileExtension returns the extension hint for callers writing the
// formatted output to a file.
func (m Mode) FileExtension() string {
	if m == EML {
		return "eml"
	}
	return "txt"
}

const (
	anonToMarker    = "Anon-To: "
	encryptedMarker = "Encrypted: PGP"
	bodySeparator   = "\n\n"
)

// ErrNotText is returned when envelope bytes are not valid text and a
// text based output format was requested.
var ErrNotText = errors.New("onion: envelope is not valid UTF-8 text")

// FormatError indicates a structurally malformed envelope at formatting
// time.  A correctly constructed Envelope never triggers it, but the
// formatter accepts arbitrary strings and has to check.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "onion: malformed envelope: " + e.Reason
}

// FormatEnvelope validates that the envelope is text and renders it.
func FormatEnvelope(env Envelope, mode Mode) (string, error) {
	if !utf8.Valid(env) {
		return "", ErrNotText
	}
	return Format(string(env), mode)
}

// Format renders envelope text into the requested representation.
func Format(envelope string, mode Mode) (string, error) {
	if mode == Cypherpunk {
		return envelope, nil
	}

	addr, body, err := splitEnvelope(envelope)
	if err != nil {
		return "", err
	}
	switch mode {
	case Mailto:
		return "mailto:" + addr + "?body=" + percentEncode(body), nil
	case EML:
		var b strings.Builder
		b.WriteString("MIME-Version: 1.0\n")
		b.WriteString("Content-Type: text/plain; charset=utf-8\n")
		b.WriteString("To: " + addr + "\n\n")
		b.WriteString(body)
		return b.String(), nil
	default:
		return "", fmt.Errorf("onion: unknown output mode %v", mode)
	}
}

// splitEnvelope extracts the first hop address named by the outermost
// header block and the message body following it.
func splitEnvelope(envelope string) (addr, body string, err error) {
	i := strings.Index(envelope, anonToMarker)
	if i < 0 {
		return "", "", &FormatError{Reason: "no 'Anon-To: ' header"}
	}
	rest := envelope[i+len(anonToMarker):]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", "", &FormatError{Reason: "unterminated 'Anon-To: ' header"}
	}
	addr = rest[:nl]

	// The body starts after the blank line closing the outer header
	// block, the one following the "Encrypted: PGP" marker.
	j := strings.Index(rest[nl:], encryptedMarker)
	if j < 0 {
		return "", "", &FormatError{Reason: "no 'Encrypted: PGP' header"}
	}
	tail := rest[nl+j+len(encryptedMarker):]
	k := strings.Index(tail, bodySeparator)
	if k < 0 {
		return "", "", &FormatError{Reason: "no blank line separating the body"}
	}
	return addr, tail[k+len(bodySeparator):], nil
}

const upperhex = "0123456789ABCDEF"

// percentEncode escapes every non-alphanumeric byte.  This is stricter
// than URL query escaping: spaces become %20, not '+'.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xf])
		}
	}
	return b.String()
}
