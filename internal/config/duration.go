package config

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Schedule decides when the next cycle starts.
type Schedule struct {
	cron.Schedule
	// Every is the fixed interval, zero for cron schedules.
	Every time.Duration
	// Source is "cron", "duration", "hhmm" or "integer".
	Source string
	raw    string
}

func (s Schedule) String() string {
	if s.Every > 0 {
		return s.Every.String()
	}
	return s.raw
}

// Expected is the nominal gap between cycles, used for gap detection.
// For cron schedules it is measured from now.
func (s Schedule) Expected(now time.Time) time.Duration {
	if s.Every > 0 {
		return s.Every
	}
	if s.Schedule == nil {
		return 0
	}
	next := s.Next(now)
	return s.Next(next).Sub(next)
}

// every is a fixed-interval schedule. Unlike cron.Every it keeps
// sub-second precision.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule accepts:
//   - cron: "*/5 * * * *", "@hourly", "@every 5m" (optionally prefixed "cron:")
//   - Go duration: "1s", "5m", "2h30m"
//   - HH:MM interval: "00:05" is five minutes
//   - a bare integer, counted in unit
func ParseSchedule(raw string, unit time.Duration) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}

	expr, forced := strings.CutPrefix(s, "cron:")
	if forced || strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		expr = strings.TrimSpace(expr)
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid cron interval %q: %w", expr, err)
		}
		return Schedule{Schedule: sched, Source: "cron", raw: expr}, nil
	}

	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("invalid minutes in %q", raw)
		}
		return fixed(time.Duration(hh)*time.Hour+time.Duration(mm)*time.Minute, "hhmm")
	}

	if n, err := strconv.Atoi(s); err == nil {
		if unit <= 0 {
			unit = time.Second
		}
		if n > 0 && int64(n) > math.MaxInt64/int64(unit) {
			return Schedule{}, fmt.Errorf("interval %q is too large", raw)
		}
		return fixed(time.Duration(n)*unit, "integer")
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return Schedule{}, fmt.Errorf(
			"invalid interval %q (use a duration like '5m', HH:MM like '00:05', or cron like '*/5 * * * *')", raw)
	}
	return fixed(d, "duration")
}

func fixed(d time.Duration, source string) (Schedule, error) {
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	return Schedule{Schedule: every(d), Every: d, Source: source, raw: d.String()}, nil
}
