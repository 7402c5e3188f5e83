package logx

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/time/rate"
)

func TestThrottleSuppressesAndReports(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug")

	// Zero refill: only the burst gets through.
	th := NewThrottle(rate.Limit(0), 2)
	written := 0
	for i := 0; i < 5; i++ {
		if th.Warn(log, "write failed") {
			written++
		}
	}
	if written != 2 {
		t.Fatalf("written = %d, want 2", written)
	}
	if got := strings.Count(buf.String(), "write failed"); got != 2 {
		t.Fatalf("log lines = %d, want 2", got)
	}

	th.mu.Lock()
	suppressed := th.suppressed
	th.mu.Unlock()
	if suppressed != 3 {
		t.Fatalf("suppressed = %d, want 3", suppressed)
	}
}

func TestNilThrottleAlwaysLogs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info")
	var th *Throttle
	if !th.Warn(log, "hello") {
		t.Fatal("nil throttle should always log")
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("expected warn level line, got %q", buf.String())
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "info", "WARN", " debug "} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}
