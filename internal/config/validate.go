package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/multierr"

	logx "netwatch/pkg/logx"
)

const (
	ModePing  = "ping"
	ModeSpeed = "speed"
)

// FatalConfigError rejects a configuration before the loop starts.
type FatalConfigError struct {
	Err error
}

func (e *FatalConfigError) Error() string { return "invalid configuration: " + e.Err.Error() }
func (e *FatalConfigError) Unwrap() error { return e.Err }

// FatalError wraps err as a *FatalConfigError unless it already is one.
func FatalError(err error) error { return fatal(err) }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalConfigError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalConfigError{Err: err}
}

// Default returns the configuration used when no file is given.
func Default(mode string) *Config {
	cfg := &Config{
		Mode:    mode,
		LogDir:  ".",
		Logging: LoggingConfig{Level: "info", Console: true},
		Identity: IdentityConfig{
			Source: "auto",
		},
		Ping: PingConfig{Method: "system"},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields that depend on the mode.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if strings.TrimSpace(cfg.Interval) == "" {
		switch cfg.Mode {
		case ModeSpeed:
			cfg.Interval = "5"
		case ModePing:
			cfg.Interval = "1"
		}
	}
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = "."
	}
	if strings.TrimSpace(cfg.Identity.Source) == "" {
		cfg.Identity.Source = "auto"
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Debug.Enabled && strings.TrimSpace(cfg.Debug.Addr) == "" {
		cfg.Debug.Addr = "127.0.0.1:6060"
	}
}

// Resolved holds the parsed form of the string fields of a Config.
type Resolved struct {
	Schedule        Schedule
	DeltaUnit       time.Duration
	ProbeTimeout    time.Duration
	IdentityTimeout time.Duration

	PacketLossTimeout  time.Duration
	StorageBusyTimeout time.Duration
	DebugReadTimeout   time.Duration
	DebugIdleTimeout   time.Duration
}

// IntervalUnit is the unit of a bare integer interval and of the logged delta.
func IntervalUnit(mode string) time.Duration {
	if mode == ModeSpeed {
		return time.Minute
	}
	return time.Second
}

// Resolve validates cfg and parses its durations. Every problem is reported,
// wrapped in a single FatalConfigError.
func Resolve(cfg *Config) (*Resolved, error) {
	if cfg == nil {
		return nil, fatal(errors.New("config is nil"))
	}
	var (
		errs error
		r    Resolved
	)
	add := func(err error) { errs = multierr.Append(errs, err) }

	switch cfg.Mode {
	case ModePing:
		if strings.TrimSpace(cfg.Address) == "" {
			add(errors.New("address: required in ping mode"))
		}
		switch strings.ToLower(strings.TrimSpace(cfg.Ping.Method)) {
		case "", "system", "exec", "icmp", "native":
		default:
			add(fmt.Errorf("ping.method: unknown method %q", cfg.Ping.Method))
		}
	case ModeSpeed:
	default:
		add(fmt.Errorf("mode: must be %q or %q, got %q", ModePing, ModeSpeed, cfg.Mode))
	}

	r.DeltaUnit = IntervalUnit(cfg.Mode)
	if s, err := ParseSchedule(cfg.Interval, r.DeltaUnit); err != nil {
		add(fmt.Errorf("interval: %w", err))
	} else {
		r.Schedule = s
	}

	defTimeout := 5 * time.Second
	if cfg.Mode == ModeSpeed {
		defTimeout = 2 * time.Minute
	}
	var err error
	if r.ProbeTimeout, err = ParseDurationOrDefault("probe_timeout", cfg.ProbeTimeout, defTimeout); err != nil {
		add(err)
	}
	if r.IdentityTimeout, err = ParseDurationOrDefault("identity.timeout", cfg.Identity.Timeout, 3*time.Second); err != nil {
		add(err)
	}
	if r.PacketLossTimeout, err = ParseDurationField("speedtest.packet_loss_timeout", cfg.Speedtest.PacketLossTimeout); err != nil {
		add(err)
	}
	if cfg.Storage != nil {
		if r.StorageBusyTimeout, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			add(err)
		}
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none":
		case "jsonl", "file", "sqlite", "sqlite3":
			if strings.TrimSpace(cfg.Storage.Path) == "" {
				add(errors.New("storage.path: required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
		}
	}
	if r.DebugReadTimeout, err = ParseDurationOrDefault("debug.read_timeout", cfg.Debug.ReadTimeout, 10*time.Second); err != nil {
		add(err)
	}
	if r.DebugIdleTimeout, err = ParseDurationOrDefault("debug.idle_timeout", cfg.Debug.IdleTimeout, 60*time.Second); err != nil {
		add(err)
	}
	if cfg.Debug.Enabled {
		if err := checkDebugAddr(cfg.Debug); err != nil {
			add(err)
		}
	}

	th := cfg.Threshold
	if th.LatencyMs < 0 || th.GapFactor < 0 || th.MinDownloadMbps < 0 || th.MinUploadMbps < 0 {
		add(errors.New("threshold: values must be >= 0"))
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if strings.ContainsRune(cfg.LogDir, 0) {
		add(errors.New("log_dir: invalid path"))
	}

	if errs != nil {
		return nil, fatal(errs)
	}
	return &r, nil
}

// Validate reports whether cfg can start the monitor.
func Validate(cfg *Config) error {
	_, err := Resolve(cfg)
	return err
}

func checkDebugAddr(d DebugConfig) error {
	host, _, err := net.SplitHostPort(strings.TrimSpace(d.Addr))
	if err != nil {
		return fmt.Errorf("debug.addr: %w", err)
	}
	if isLoopback(host) || d.AllowInsecure || strings.TrimSpace(d.Token) != "" {
		return nil
	}
	return errors.New("debug.addr: non-loopback address requires debug.token or debug.allow_insecure")
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
