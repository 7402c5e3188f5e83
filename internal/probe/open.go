package probe

import (
	"errors"
	"fmt"
	"strings"

	"netwatch/pkg/speedtest"
)

// Config selects and configures an Executor.
type Config struct {
	Kind Kind

	// Ping settings. Method is "system" (ping binary) or "icmp" (native).
	Address    string
	Method     string
	Privileged bool

	Speedtest speedtest.RunConfig
}

// Open builds the executor for cfg. It does not apply Guard.
func Open(cfg Config, opts ...speedtest.Option) (Executor, error) {
	switch cfg.Kind {
	case KindPing:
		addr := strings.TrimSpace(cfg.Address)
		if addr == "" {
			return nil, errors.New("ping address is required")
		}
		switch strings.ToLower(strings.TrimSpace(cfg.Method)) {
		case "", "system", "exec":
			return NewSystemPing(addr), nil
		case "icmp", "native":
			return NewICMPPing(addr, cfg.Privileged), nil
		default:
			return nil, fmt.Errorf("unknown ping method %q", cfg.Method)
		}
	case KindThroughput:
		return NewSpeedTest(speedtest.NewRunner(cfg.Speedtest, opts...)), nil
	}
	return nil, fmt.Errorf("unknown probe kind %q", cfg.Kind)
}
