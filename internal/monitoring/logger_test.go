package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLoggerNilIsNoop(t *testing.T) {
	orig := Logf
	defer SetLogger(orig)

	SetLogger(nil)
	// Must not panic.
	Logf("dropped %d", 1)
}

func TestSetLoggerRedirects(t *testing.T) {
	orig := Logf
	defer SetLogger(orig)

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = format
	})
	Logf("hello %s", "world")

	if got != "hello %s" {
		t.Errorf("expected format to reach replacement logger, got %q", got)
	}
}

func TestStreamsRouting(t *testing.T) {
	defer SetLogWriters(nil, nil, nil)

	var ops, diag, trace bytes.Buffer
	SetLogWriters(&ops, &diag, &trace)

	s := Streams("[test] ")
	s.Opsf("ops message")
	s.Diagf("diag message")
	s.Tracef("trace message")

	if !strings.Contains(ops.String(), "ops message") {
		t.Errorf("ops stream missing message: %q", ops.String())
	}
	if !strings.Contains(diag.String(), "diag message") {
		t.Errorf("diag stream missing message: %q", diag.String())
	}
	if !strings.Contains(trace.String(), "trace message") {
		t.Errorf("trace stream missing message: %q", trace.String())
	}
	if !strings.Contains(ops.String(), "[test] ") {
		t.Errorf("expected prefix on ops line, got %q", ops.String())
	}
}

func TestDisabledStreamWritesNothing(t *testing.T) {
	defer SetLogWriters(nil, nil, nil)

	var diag bytes.Buffer
	SetLogWriters(nil, &diag, nil)

	s := Streams("[test] ")
	s.Opsf("should vanish")
	s.Tracef("should vanish")

	if diag.Len() != 0 {
		t.Errorf("diag stream should be empty, got %q", diag.String())
	}
}
