package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// runFunc executes an external command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

const notAssociatedMarker = "You are not associated with an AirPort network"

// NetworkSetup reads the SSID with macOS `networksetup -getairportnetwork`.
type NetworkSetup struct {
	Interface string
	run       runFunc
}

func NewNetworkSetup(iface string) *NetworkSetup {
	if strings.TrimSpace(iface) == "" {
		iface = "en0"
	}
	return &NetworkSetup{Interface: iface, run: runCommand}
}

func (n *NetworkSetup) Name() string { return "networksetup" }

func (n *NetworkSetup) SSID(ctx context.Context) (string, error) {
	out, err := n.run(ctx, "networksetup", "-getairportnetwork", n.Interface)
	if err != nil {
		return "", fmt.Errorf("networksetup: %w", err)
	}
	return parseNetworkSetup(string(out))
}

// parseNetworkSetup handles "Current Wi-Fi Network: <ssid>".
func parseNetworkSetup(out string) (string, error) {
	if strings.Contains(out, notAssociatedMarker) {
		return "", ErrNotAssociated
	}
	_, ssid, ok := strings.Cut(out, ": ")
	if !ok {
		return "", fmt.Errorf("networksetup: unexpected output %q", strings.TrimSpace(out))
	}
	ssid = strings.TrimSpace(ssid)
	if ssid == "" {
		return "", ErrNotAssociated
	}
	return ssid, nil
}

// DefaultUnredactorPath is where the wifi-unredactor app installs its binary.
const DefaultUnredactorPath = "~/Applications/wifi-unredactor.app/Contents/MacOS/wifi-unredactor"

// Unredactor reads the SSID from the wifi-unredactor helper, which prints
// {"ssid": "..."} and works around SSID redaction on recent macOS releases.
type Unredactor struct {
	Path string
	run  runFunc
}

func NewUnredactor(path string) *Unredactor {
	if strings.TrimSpace(path) == "" {
		path = DefaultUnredactorPath
	}
	return &Unredactor{Path: expandHome(path), run: runCommand}
}

func (u *Unredactor) Name() string { return "unredactor" }

func (u *Unredactor) SSID(ctx context.Context) (string, error) {
	out, err := u.run(ctx, u.Path)
	if err != nil {
		return "", fmt.Errorf("wifi-unredactor: %w", err)
	}
	var payload struct {
		SSID string `json:"ssid"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return "", fmt.Errorf("wifi-unredactor: decode output: %w", err)
	}
	if strings.TrimSpace(payload.SSID) == "" {
		return "", ErrNotAssociated
	}
	return payload.SSID, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
