// fetch.go - Directory feed retrieval.
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
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cypherpunks/remail/internal/proxy"
)

// feedFile is the well-known name of the remailer list on a statistics
// site.
const feedFile = "rlist.txt"

// FetchError is a transport level feed retrieval failure.  It is fatal
// to the run.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("directory: fetching '%v' failed: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher pulls the raw directory feed from a statistics site, optionally
// through an outgoing proxy.
type Fetcher struct {
	// StatsSource is the base URL of the statistics site.
	StatsSource string

	// Timeout bounds the whole fetch.
	Timeout time.Duration

	// Proxy is the optional outgoing proxy configuration.
	Proxy *proxy.Config
}

// Fetch retrieves the full feed text.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	url := strings.TrimSuffix(f.StatsSource, "/") + "/" + feedFile

	transport := &http.Transport{}
	if f.Proxy != nil {
		if dial := f.Proxy.ToDialContext("directory"); dial != nil {
			transport.DialContext = dial
		}
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   f.Timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{URL: url, Err: fmt.Errorf("unexpected status: %v", resp.Status)}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	return string(b), nil
}
