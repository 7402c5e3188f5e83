package logx

import (
	"sync"

	"golang.org/x/time/rate"
)

// Throttle rate-limits a repeating log statement.
//
// Calls beyond the limit are counted; the next allowed call carries the
// number of suppressed calls as "suppressed".
type Throttle struct {
	mu         sync.Mutex
	limiter    *rate.Limiter
	suppressed int
}

// NewThrottle allows burst calls immediately, then refills at r calls per second.
func NewThrottle(r rate.Limit, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(r, burst)}
}

// Warn logs msg at warn level unless the throttle is exhausted.
// It reports whether the line was written.
func (t *Throttle) Warn(log Logger, msg string, fields ...Field) bool {
	if t == nil {
		log.Warn(msg, fields...)
		return true
	}
	t.mu.Lock()
	if !t.limiter.Allow() {
		t.suppressed++
		t.mu.Unlock()
		return false
	}
	n := t.suppressed
	t.suppressed = 0
	t.mu.Unlock()

	if n > 0 {
		fields = append(fields, Int("suppressed", n))
	}
	log.Warn(msg, fields...)
	return true
}
