// Package monitoring provides the process-wide logging streams used by the
// tracking engine and its HTTP surface.
//
// Three streams are exposed: ops (actionable warnings, data loss), diag
// (day-to-day diagnostics and tuning context) and trace (high-frequency
// per-frame telemetry). Each package obtains prefixed loggers via Streams
// so log lines identify their origin without a structured logging
// dependency.
package monitoring

import (
	"io"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or
// mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil sets a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var (
	mu          sync.RWMutex
	opsWriter   io.Writer
	diagWriter  io.Writer
	traceWriter io.Writer
)

// SetLogWriters configures the three logging streams. Pass nil for any
// writer to disable that stream. StreamSets created before or after this
// call observe the new writers.
func SetLogWriters(ops, diag, trace io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	opsWriter = ops
	diagWriter = diag
	traceWriter = trace
}

// SetLegacyWriter routes all three streams to a single writer. Pass nil to
// disable all stream logging.
func SetLegacyWriter(w io.Writer) {
	SetLogWriters(w, w, w)
}

// StreamSet holds the prefixed logging functions handed to a package.
type StreamSet struct {
	prefix string
}

// Streams returns a StreamSet whose lines carry the given prefix, e.g.
// "[vision] ". Writers are resolved per call so writer changes take effect
// immediately.
func Streams(prefix string) *StreamSet {
	return &StreamSet{prefix: prefix}
}

func (s *StreamSet) emit(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		return
	}
	log.New(w, s.prefix, log.LstdFlags|log.Lmicroseconds).Printf(format, args...)
}

// Opsf logs to the ops stream (actionable warnings, errors, data loss).
func (s *StreamSet) Opsf(format string, args ...interface{}) {
	mu.RLock()
	w := opsWriter
	mu.RUnlock()
	s.emit(w, format, args...)
}

// Diagf logs to the diag stream (day-to-day diagnostics, tuning context).
func (s *StreamSet) Diagf(format string, args ...interface{}) {
	mu.RLock()
	w := diagWriter
	mu.RUnlock()
	s.emit(w, format, args...)
}

// Tracef logs to the trace stream (high-frequency per-frame telemetry).
func (s *StreamSet) Tracef(format string, args ...interface{}) {
	mu.RLock()
	w := traceWriter
	mu.RUnlock()
	s.emit(w, format, args...)
}
