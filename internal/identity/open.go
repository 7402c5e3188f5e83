package identity

import (
	"fmt"
	"runtime"
	"strings"
)

// Config selects and configures a Source.
//
// Source values:
//   - "auto": networksetup on macOS, networkmanager on Linux
//   - "networksetup", "unredactor", "networkmanager"
//   - "static": always report Static (useful on wired hosts and in tests)
type Config struct {
	Source         string
	Interface      string
	Static         string
	UnredactorPath string
}

// OpenSource builds the configured Source.
func OpenSource(cfg Config) (Source, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Source))
	if kind == "" || kind == "auto" {
		kind = autoSource(runtime.GOOS)
	}
	switch kind {
	case "networksetup":
		return NewNetworkSetup(cfg.Interface), nil
	case "unredactor":
		return NewUnredactor(cfg.UnredactorPath), nil
	case "networkmanager", "nm":
		return NewNetworkManager(cfg.Interface), nil
	case "static":
		if strings.TrimSpace(cfg.Static) == "" {
			return nil, fmt.Errorf("identity: static source needs a network name")
		}
		return Static(cfg.Static), nil
	default:
		return nil, fmt.Errorf("identity: unknown source %q", cfg.Source)
	}
}

func autoSource(goos string) string {
	switch goos {
	case "darwin":
		return "networksetup"
	case "linux":
		return "networkmanager"
	default:
		return "unsupported:" + goos
	}
}
