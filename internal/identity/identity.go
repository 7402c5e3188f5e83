// Package identity names the network the host is currently joined to.
//
// Sources talk to the OS (networksetup, the wifi-unredactor helper,
// NetworkManager over D-Bus). A Resolver wraps a Source and turns every
// outcome into an Identity: a sanitized network name or a sentinel. It never
// returns an error and never blocks longer than its timeout.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/time/rate"

	logx "netwatch/pkg/logx"
)

// Identity is a sanitized network name, safe to use as a file name.
type Identity string

const (
	// NotConnected means the host is not associated with any wireless network.
	NotConnected Identity = "NOT_CONNECTED"
	// LookupFailed means the identity could not be determined this cycle.
	LookupFailed Identity = "IDENTITY_ERROR"
	// Unknown replaces names that sanitize to nothing.
	Unknown Identity = "Unknown_Network"
)

func (id Identity) String() string { return string(id) }

// IsSentinel reports whether id is one of the non-network values.
func (id Identity) IsSentinel() bool {
	return id == NotConnected || id == LookupFailed
}

// ErrNotAssociated is returned by sources when no wireless network is joined.
var ErrNotAssociated = errors.New("not associated with a wireless network")

// Source looks up the raw (unsanitized) name of the current network.
type Source interface {
	Name() string
	SSID(ctx context.Context) (string, error)
}

// Provider returns the current network identity.
type Provider interface {
	Identity(ctx context.Context) Identity
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) Identity

func (f ProviderFunc) Identity(ctx context.Context) Identity { return f(ctx) }

// Sanitize strips punctuation and control characters and replaces every
// whitespace rune with an underscore, so the result is safe both as a file
// name and inside a single log line.
func Sanitize(raw string) Identity {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte('_')
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r), r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return Unknown
	}
	return Identity(b.String())
}

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 3 * time.Second

// Resolver converts a Source into a Provider.
type Resolver struct {
	src      Source
	timeout  time.Duration
	log      logx.Logger
	throttle *logx.Throttle
}

// NewResolver wraps src. A non-positive timeout uses DefaultTimeout.
func NewResolver(src Source, timeout time.Duration, log logx.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{
		src:      src,
		timeout:  timeout,
		log:      log.With(logx.String("comp", "identity"), logx.String("source", sourceName(src))),
		throttle: logx.NewThrottle(rate.Every(time.Minute), 3),
	}
}

func sourceName(src Source) string {
	if src == nil {
		return "none"
	}
	return src.Name()
}

type lookup struct {
	ssid string
	err  error
}

// Identity runs one lookup under the timeout.
func (r *Resolver) Identity(ctx context.Context) Identity {
	if r == nil || r.src == nil {
		return LookupFailed
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Buffered so an abandoned lookup can still finish and exit.
	done := make(chan lookup, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- lookup{err: fmt.Errorf("panic in %s lookup: %v", r.src.Name(), p)}
			}
		}()
		ssid, err := r.src.SSID(ctx)
		done <- lookup{ssid: ssid, err: err}
	}()

	select {
	case <-ctx.Done():
		r.throttle.Warn(r.log, "identity lookup timed out", logx.Duration("timeout", r.timeout))
		return LookupFailed
	case res := <-done:
		switch {
		case errors.Is(res.err, ErrNotAssociated):
			return NotConnected
		case res.err != nil:
			r.throttle.Warn(r.log, "identity lookup failed", logx.Err(res.err))
			return LookupFailed
		case strings.TrimSpace(res.ssid) == "":
			return NotConnected
		}
		return Sanitize(res.ssid)
	}
}

// Static always reports the same network name.
type Static string

func (s Static) Name() string { return "static" }

func (s Static) SSID(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNotAssociated
	}
	return string(s), nil
}
