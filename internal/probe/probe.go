// Package probe runs a single network measurement per call.
//
// An Executor never returns an error: failures (including timeouts and
// panics when wrapped by Guard) are carried inside the Result.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// Kind selects the measurement a probe performs.
type Kind string

const (
	KindPing       Kind = "ping"
	KindThroughput Kind = "throughput"
)

// ParseKind accepts the CLI mode names as well as the kind names.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ping":
		return KindPing, nil
	case "speed", "throughput", "speedtest":
		return KindThroughput, nil
	}
	return "", fmt.Errorf("unknown probe kind %q", s)
}

// Ping is the payload of a successful ping probe.
type Ping struct {
	RoundTripMs float64
	TTL         int
	Bytes       int
	Seq         int
	Target      string
}

// Throughput is the payload of a successful throughput probe.
type Throughput struct {
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64
	PacketLoss   float64
	ISP          string
	Server       string
}

// Result is the outcome of one probe. Err != nil marks a Failure; the
// payload matching Kind is only meaningful when Err is nil.
type Result struct {
	Kind      Kind
	Timestamp time.Time
	Duration  time.Duration
	Err       error

	Ping       Ping
	Throughput Throughput
}

func (r Result) Failed() bool { return r.Err != nil }

// ErrorSummary is the last colon-separated segment of the error text.
func (r Result) ErrorSummary() string {
	if r.Err == nil {
		return ""
	}
	msg := r.Err.Error()
	if i := strings.LastIndex(msg, ":"); i >= 0 {
		msg = msg[i+1:]
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "unknown error"
	}
	return msg
}

// Failure builds a failed Result.
func Failure(kind Kind, at time.Time, err error) Result {
	if err == nil {
		err = errors.New("probe failed")
	}
	return Result{Kind: kind, Timestamp: at, Err: err}
}

// Executor performs one measurement.
type Executor interface {
	Kind() Kind
	Probe(ctx context.Context) Result
}

// ErrTimeout is reported when a guarded probe exceeds its deadline.
var ErrTimeout = errors.New("probe timed out")

type guarded struct {
	next    Executor
	timeout time.Duration
	clk     clock.Clock
}

// Guard bounds next with a hard timeout, converts panics into failures and
// stamps the Result with the completion time taken from clk.
// A non-positive timeout disables the deadline.
func Guard(next Executor, timeout time.Duration, clk clock.Clock) Executor {
	if clk == nil {
		clk = clock.New()
	}
	return &guarded{next: next, timeout: timeout, clk: clk}
}

func (g *guarded) Kind() Kind { return g.next.Kind() }

func (g *guarded) Probe(ctx context.Context) Result {
	kind := g.next.Kind()
	start := g.clk.Now()

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Failure(kind, time.Time{}, fmt.Errorf("probe panic: %v", p))
			}
		}()
		done <- g.next.Probe(pctx)
	}()

	var deadline <-chan time.Time
	if g.timeout > 0 {
		t := g.clk.Timer(g.timeout)
		defer t.Stop()
		deadline = t.C
	}

	var res Result
	select {
	case res = <-done:
	case <-deadline:
		res = Failure(kind, time.Time{}, fmt.Errorf("%w after %s", ErrTimeout, g.timeout))
	case <-ctx.Done():
		select {
		case res = <-done:
		default:
			res = Failure(kind, time.Time{}, ctx.Err())
		}
	}

	now := g.clk.Now()
	res.Kind = kind
	res.Timestamp = now
	if res.Duration == 0 {
		res.Duration = now.Sub(start)
	}
	return res
}
