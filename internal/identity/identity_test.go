package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	logx "netwatch/pkg/logx"
)

func TestSanitize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Identity
	}{
		{raw: "HomeNet", want: "HomeNet"},
		{raw: "Joe's Coffee Shop!", want: "Joes_Coffee_Shop"},
		{raw: "guest-5G (2.4)", want: "guest5G_24"},
		{raw: "Café Wi-Fi", want: "Café_WiFi"},
		{raw: "Cafe\nGuest\tWiFi", want: "Cafe_Guest_WiFi"},
		{raw: "a\r\nb", want: "a__b"},
		{raw: "bell\x07", want: "bell"},
		{raw: "!!!", want: Unknown},
		{raw: "", want: Unknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			if got := Sanitize(tt.raw); got != tt.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

type fakeSource struct {
	ssid  string
	err   error
	delay time.Duration
	panic bool
}

func (f fakeSource) Name() string { return "fake" }

func (f fakeSource) SSID(ctx context.Context) (string, error) {
	if f.panic {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.ssid, f.err
}

func TestResolverOutcomes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  Source
		want Identity
	}{
		{name: "ok", src: fakeSource{ssid: "Office Net"}, want: "Office_Net"},
		{name: "not associated", src: fakeSource{err: ErrNotAssociated}, want: NotConnected},
		{name: "empty", src: fakeSource{}, want: NotConnected},
		{name: "error", src: fakeSource{err: errors.New("exit status 1")}, want: LookupFailed},
		{name: "slow", src: fakeSource{ssid: "late", delay: time.Second}, want: LookupFailed},
		{name: "panic", src: fakeSource{panic: true}, want: LookupFailed},
		{name: "nil source", src: nil, want: LookupFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewResolver(tt.src, 50*time.Millisecond, logx.Nop())
			if got := r.Identity(context.Background()); got != tt.want {
				t.Fatalf("Identity() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseNetworkSetup(t *testing.T) {
	t.Parallel()
	ssid, err := parseNetworkSetup("Current Wi-Fi Network: HomeNet\n")
	if err != nil || ssid != "HomeNet" {
		t.Fatalf("got (%q, %v)", ssid, err)
	}
	if _, err := parseNetworkSetup("You are not associated with an AirPort network.\n"); !errors.Is(err, ErrNotAssociated) {
		t.Fatalf("expected ErrNotAssociated, got %v", err)
	}
	if _, err := parseNetworkSetup("garbage"); err == nil {
		t.Fatal("expected error for unexpected output")
	}
}

func TestNetworkSetupUsesInterface(t *testing.T) {
	t.Parallel()
	n := NewNetworkSetup("en1")
	var gotArgs []string
	n.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte("Current Wi-Fi Network: Lab\n"), nil
	}
	ssid, err := n.SSID(context.Background())
	if err != nil || ssid != "Lab" {
		t.Fatalf("got (%q, %v)", ssid, err)
	}
	if len(gotArgs) != 3 || gotArgs[2] != "en1" {
		t.Fatalf("unexpected command %v", gotArgs)
	}
}

func TestUnredactor(t *testing.T) {
	t.Parallel()
	u := NewUnredactor("/bin/unredactor")
	u.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(`{"ssid":"Cafe Guest"}`), nil
	}
	if ssid, err := u.SSID(context.Background()); err != nil || ssid != "Cafe Guest" {
		t.Fatalf("got (%q, %v)", ssid, err)
	}

	u.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(`{"ssid":""}`), nil
	}
	if _, err := u.SSID(context.Background()); !errors.Is(err, ErrNotAssociated) {
		t.Fatalf("expected ErrNotAssociated, got %v", err)
	}

	u.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(`not json`), nil
	}
	if _, err := u.SSID(context.Background()); err == nil || errors.Is(err, ErrNotAssociated) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestNetworkManagerPicksWifiDevice(t *testing.T) {
	t.Parallel()
	props := map[string]any{
		"/org/freedesktop/NetworkManager|Devices": []dbus.ObjectPath{"/dev/eth", "/dev/wifi"},
		"/dev/eth|DeviceType":                     uint32(1),
		"/dev/wifi|DeviceType":                    uint32(2),
		"/dev/wifi|Interface":                     "wlan0",
		"/dev/wifi|ActiveAccessPoint":             dbus.ObjectPath("/ap/7"),
		"/ap/7|Ssid":                              []byte("Home Net"),
	}
	n := NewNetworkManager("wlan0")
	n.get = func(ctx context.Context, path dbus.ObjectPath, iface, prop string) (any, error) {
		v, ok := props[string(path)+"|"+prop]
		if !ok {
			return nil, errors.New("no such property " + prop)
		}
		return v, nil
	}
	ssid, err := n.SSID(context.Background())
	if err != nil || ssid != "Home Net" {
		t.Fatalf("got (%q, %v)", ssid, err)
	}

	props["/dev/wifi|ActiveAccessPoint"] = dbus.ObjectPath("/")
	if _, err := n.SSID(context.Background()); !errors.Is(err, ErrNotAssociated) {
		t.Fatalf("expected ErrNotAssociated, got %v", err)
	}
}

func TestOpenSource(t *testing.T) {
	t.Parallel()
	if _, err := OpenSource(Config{Source: "static"}); err == nil {
		t.Fatal("expected error for static source without a name")
	}
	src, err := OpenSource(Config{Source: "static", Static: "Lab"})
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	if src.Name() != "static" {
		t.Fatalf("Name() = %q", src.Name())
	}
	if _, err := OpenSource(Config{Source: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown source")
	}
	if got := autoSource("darwin"); got != "networksetup" {
		t.Fatalf("autoSource(darwin) = %q", got)
	}
}
