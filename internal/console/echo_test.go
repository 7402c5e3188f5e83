package console

import (
	"bytes"
	"sync/atomic"
	"testing"

	"netwatch/internal/classify"
	"netwatch/internal/session"
)

func TestEchoPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	var silent atomic.Bool
	e := New(&buf, silent.Load)

	e.Line(session.Line{Kind: session.LineHeader, Text: "header"})
	e.Line(session.Line{Kind: session.LineSample, Text: "slow", Severity: classify.Degraded})
	silent.Store(true)
	e.Line(session.Line{Kind: session.LineSample, Text: "hidden", Severity: classify.Failed})
	silent.Store(false)
	e.Line(session.Line{Kind: session.LineRestart, Text: "restart"})

	// A buffer is not a terminal, so no escape codes are written.
	if got, want := buf.String(), "header\nslow\nrestart\n"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBanner(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf, func() bool { return true })
	e.Banner("5m0s", true)
	if got := buf.String(); got != "Interval: 5m0s\tSilent Mode: true\n" {
		t.Fatalf("banner=%q", got)
	}
}
