// log.go - Logging backend.
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

// Package log provides a logging backend, based around the go-logging
// package.
package log

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/op/go-logging.v1"
)

const logFormat = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

// Backend is a log backend.
type Backend struct {
	w       io.Writer
	backend logging.LeveledBackend
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b.backend)
	return l
}

// New initializes a logging backend.  If disable is set all output is
// discarded, otherwise output goes to the file f, or stdout when f is
// empty.
func New(f string, level string, disable bool) (*Backend, error) {
	if _, err := ParseLevel(level); err != nil {
		return nil, err
	}

	var w io.Writer
	var err error
	switch {
	case disable:
		w = io.Discard
	case f == "":
		w = os.Stdout
	default:
		const fileMode = 0600
		flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
		w, err = os.OpenFile(f, flags, fileMode)
		if err != nil {
			return nil, fmt.Errorf("log: failed to create log file: %v", err)
		}
	}
	return NewWithWriter(w, level)
}

// NewWithWriter initializes a logging backend that writes to w.
func NewWithWriter(w io.Writer, level string) (*Backend, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	b := &Backend{w: w}
	base := logging.NewLogBackend(b.w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(logFormat))
	b.backend = logging.AddModuleLevel(formatted)
	b.backend.SetLevel(lvl, "")
	return b, nil
}

// ParseLevel validates and converts a log level string.
func ParseLevel(l string) (logging.Level, error) {
	switch l {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("log: invalid level: '%v'", l)
	}
}
