// Package monitor runs the sampling loop: identity check, probe, classify,
// route, sleep.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"netwatch/internal/classify"
	"netwatch/internal/identity"
	"netwatch/internal/probe"
	"netwatch/internal/session"
	logx "netwatch/pkg/logx"
)

// Router is the part of session.Router the loop needs.
type Router interface {
	Route(ctx context.Context, id identity.Identity, now time.Time) (*session.Handle, error)
	Emit(h *session.Handle, s classify.Sample) error
	Close() error
}

// Hooks observe the loop. Implementations must not block.
type Hooks interface {
	IdentityChanged(from, to identity.Identity)
	// SampleRecorded runs only after the sample reached the session log.
	SampleRecorded(s classify.Sample, probeDuration time.Duration)
	CycleLost(err error)
}

// SessionState is the bookkeeping carried from one cycle to the next.
type SessionState struct {
	CurrentIdentity identity.Identity
	// LastSampleAt is the probe timestamp of the previous sample on
	// CurrentIdentity; nil until the first sample after a switch.
	LastSampleAt *time.Time
	Cycles       uint64
	Lost         uint64
}

// Settings are the values that can change while the loop runs.
type Settings struct {
	Threshold classify.Threshold
	Silent    bool
}

// Options configures a Loop.
type Options struct {
	Identity     identity.Provider
	Executor     probe.Executor
	Router       Router
	Schedule     cron.Schedule
	ProbeTimeout time.Duration
	Settings     Settings

	Clock clock.Clock
	Log   logx.Logger
	Hooks []Hooks
}

// Outcome describes one cycle.
type Outcome struct {
	Identity identity.Identity
	Sample   classify.Sample
	// Recorded is false when the sample could not be appended to the log.
	Recorded bool
	// Abandoned is true when the cycle was cut short by cancellation.
	Abandoned bool
	Err       error
}

type Loop struct {
	ident    identity.Provider
	exec     probe.Executor
	router   Router
	schedule cron.Schedule
	clk      clock.Clock
	log      logx.Logger
	hooks    []Hooks

	closeWarn *logx.Throttle
	lostWarn  *logx.Throttle

	mu       sync.Mutex
	settings Settings
	state    SessionState
}

var errNoHandle = errors.New("no log handle")

func New(opts Options) (*Loop, error) {
	switch {
	case opts.Identity == nil:
		return nil, errors.New("monitor: identity provider is required")
	case opts.Executor == nil:
		return nil, errors.New("monitor: probe executor is required")
	case opts.Router == nil:
		return nil, errors.New("monitor: router is required")
	case opts.Schedule == nil:
		return nil, errors.New("monitor: schedule is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		ident:    opts.Identity,
		exec:     probe.Guard(opts.Executor, opts.ProbeTimeout, clk),
		router:   opts.Router,
		schedule: opts.Schedule,
		clk:      clk,
		log:      log.With(logx.String("comp", "monitor")),
		hooks:    opts.Hooks,
		settings: opts.Settings,

		closeWarn: logx.NewThrottle(rate.Every(30*time.Second), 1),
		lostWarn:  logx.NewThrottle(rate.Every(30*time.Second), 1),
	}, nil
}

// Update swaps the settings used from the next cycle on.
func (l *Loop) Update(s Settings) {
	l.mu.Lock()
	l.settings = s
	l.mu.Unlock()
}

func (l *Loop) Settings() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settings
}

// Silent reports whether console echo is currently muted.
func (l *Loop) Silent() bool { return l.Settings().Silent }

// SetSchedule replaces the schedule used after the current sleep.
func (l *Loop) SetSchedule(s cron.Schedule) {
	if s == nil {
		return
	}
	l.mu.Lock()
	l.schedule = s
	l.mu.Unlock()
}

// State returns a copy of the session state.
func (l *Loop) State() SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state
	if st.LastSampleAt != nil {
		t := *st.LastSampleAt
		st.LastSampleAt = &t
	}
	return st
}

// Run executes cycles until ctx is cancelled. The router is closed on return.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if out := l.RunCycle(ctx); out.Abandoned {
			return nil
		}

		l.mu.Lock()
		sched := l.schedule
		l.mu.Unlock()
		now := l.clk.Now()
		next := sched.Next(now)
		l.log.Trace("next cycle", logx.Time("at", next))
		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}
		t := l.clk.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Close closes the session log. Run calls it on return.
func (l *Loop) Close() {
	if err := l.router.Close(); err != nil {
		l.log.Warn("closing session log failed", logx.Err(err))
	}
}

// RunCycle performs one identity check, probe and emit without sleeping.
func (l *Loop) RunCycle(ctx context.Context) Outcome {
	id := l.ident.Identity(ctx)
	prev := l.switchIdentity(id)
	if prev != id && prev != "" {
		l.log.Info("network changed", logx.String("from", prev.String()), logx.String("to", id.String()))
		for _, h := range l.hooks {
			h.IdentityChanged(prev, id)
		}
	}

	out := Outcome{Identity: id}

	handle, routeErr := l.router.Route(ctx, id, l.clk.Now())
	if routeErr != nil && ctx.Err() != nil {
		out.Abandoned = true
		return out
	}
	if routeErr != nil && handle != nil {
		// Closing the previous log failed; the new one is usable.
		l.closeWarn.Warn(l.log, "previous session log did not close cleanly", logx.Err(routeErr))
		routeErr = nil
	}

	res := l.exec.Probe(ctx)
	if ctx.Err() != nil && res.Failed() {
		l.log.Debug("cycle abandoned", logx.String("network", id.String()))
		out.Abandoned = true
		return out
	}

	settings := l.Settings()

	l.mu.Lock()
	sample := classify.Classify(res, id, l.state.LastSampleAt, settings.Threshold)
	ts := res.Timestamp
	l.state.LastSampleAt = &ts
	l.state.Cycles++
	l.mu.Unlock()
	out.Sample = sample

	err := routeErr
	if err == nil {
		if handle == nil {
			err = errNoHandle
		} else {
			err = l.router.Emit(handle, sample)
		}
	}
	if err != nil {
		out.Err = err
		l.mu.Lock()
		l.state.Lost++
		l.mu.Unlock()
		l.lostWarn.Warn(l.log, "sample not persisted, cycle lost",
			logx.String("network", id.String()), logx.Err(err))
		for _, h := range l.hooks {
			h.CycleLost(err)
		}
	} else {
		out.Recorded = true
		for _, h := range l.hooks {
			h.SampleRecorded(sample, res.Duration)
		}
	}

	if l.log.Enabled(logx.LevelDebug) {
		l.log.Debug("cycle complete",
			logx.String("network", id.String()),
			logx.String("severity", string(sample.Severity)),
			logx.Float64("delta", sample.Delta),
			logx.Duration("probe", res.Duration),
		)
	}
	return out
}

// switchIdentity records id as current and returns the previous identity.
// The delta bookkeeping restarts whenever the network changes.
func (l *Loop) switchIdentity(id identity.Identity) identity.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.state.CurrentIdentity
	if prev != id {
		l.state.CurrentIdentity = id
		l.state.LastSampleAt = nil
	}
	return prev
}
