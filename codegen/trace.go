/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package codegen

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Logger is the pluggable sink for allocator decisions (steal, swap,
// junction move), wrapping ad-hoc debug-print traces into an interface so
// embedders can route
// output anywhere (or nowhere — NopLogger is the zero-cost default).
type Logger interface {
	Debugf(format string, args ...interface{})
	Tracef(event, category string)
}

// NopLogger discards everything. It is the Context default.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...interface{}) {}
func (NopLogger) Tracef(string, string)         {}

// ChromeTraceLogger writes Chrome Trace Event Format JSON, matching the
// field layout of a compile-event trace record, so
// allocator behaviour for one compilation can be inspected in
// chrome://tracing without inventing a bespoke format.
type ChromeTraceLogger struct {
	mu      sync.Mutex
	w       io.Writer
	first   bool
	start   time.Time
	debug   func(string, ...interface{})
}

// NewChromeTraceLogger wraps w, writing a JSON array of trace events as
// Tracef is called. Debugf is routed through debugf if non-nil.
func NewChromeTraceLogger(w io.Writer, debugf func(string, ...interface{})) *ChromeTraceLogger {
	w.Write([]byte("["))
	return &ChromeTraceLogger{w: w, first: true, start: time.Now(), debug: debugf}
}

func (l *ChromeTraceLogger) Debugf(format string, args ...interface{}) {
	if l.debug != nil {
		l.debug(format, args...)
	}
}

type traceEvent struct {
	Name string `json:"name"`
	Cat  string `json:"cat"`
	Ph   string `json:"ph"`
	Ts   int64  `json:"ts"`
}

func (l *ChromeTraceLogger) Tracef(event, category string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.first {
		l.w.Write([]byte(","))
	}
	l.first = false
	b, _ := json.Marshal(traceEvent{Name: event, Cat: category, Ph: "i", Ts: time.Since(l.start).Microseconds()})
	l.w.Write(b)
}

// Close terminates the JSON array.
func (l *ChromeTraceLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write([]byte("]"))
}
