package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	nmDest  = "org.freedesktop.NetworkManager"
	nmPath  = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface = "org.freedesktop.NetworkManager"

	nmDeviceTypeWifi uint32 = 2
)

// propGetter reads one D-Bus property of a NetworkManager object.
type propGetter func(ctx context.Context, path dbus.ObjectPath, iface, prop string) (any, error)

// NetworkManager reads the SSID of the active access point over the system bus.
type NetworkManager struct {
	// Interface restricts the lookup to one device (e.g. "wlan0"). Empty means
	// the first Wi-Fi device with an active access point.
	Interface string
	get       propGetter
}

func NewNetworkManager(iface string) *NetworkManager {
	return &NetworkManager{Interface: strings.TrimSpace(iface), get: systemBusGetter}
}

func (n *NetworkManager) Name() string { return "networkmanager" }

func systemBusGetter(ctx context.Context, path dbus.ObjectPath, iface, prop string) (any, error) {
	// SystemBus returns a shared connection; it must not be closed here.
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	var v dbus.Variant
	call := conn.Object(nmDest, path).CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, iface, prop)
	if err := call.Store(&v); err != nil {
		return nil, fmt.Errorf("get %s.%s on %s: %w", iface, prop, path, err)
	}
	return v.Value(), nil
}

func (n *NetworkManager) SSID(ctx context.Context) (string, error) {
	raw, err := n.get(ctx, nmPath, nmIface, "Devices")
	if err != nil {
		return "", err
	}
	devices, ok := raw.([]dbus.ObjectPath)
	if !ok {
		return "", fmt.Errorf("networkmanager: unexpected Devices type %T", raw)
	}

	for _, dev := range devices {
		ssid, ok, err := n.deviceSSID(ctx, dev)
		if err != nil {
			return "", err
		}
		if ok {
			return ssid, nil
		}
	}
	return "", ErrNotAssociated
}

func (n *NetworkManager) deviceSSID(ctx context.Context, dev dbus.ObjectPath) (string, bool, error) {
	raw, err := n.get(ctx, dev, nmIface+".Device", "DeviceType")
	if err != nil {
		return "", false, err
	}
	if t, _ := raw.(uint32); t != nmDeviceTypeWifi {
		return "", false, nil
	}
	if n.Interface != "" {
		raw, err := n.get(ctx, dev, nmIface+".Device", "Interface")
		if err != nil {
			return "", false, err
		}
		if name, _ := raw.(string); name != n.Interface {
			return "", false, nil
		}
	}

	raw, err = n.get(ctx, dev, nmIface+".Device.Wireless", "ActiveAccessPoint")
	if err != nil {
		return "", false, err
	}
	ap, _ := raw.(dbus.ObjectPath)
	if ap == "" || ap == "/" {
		return "", false, nil
	}

	raw, err = n.get(ctx, ap, nmIface+".AccessPoint", "Ssid")
	if err != nil {
		return "", false, err
	}
	ssid, _ := raw.([]byte)
	if len(ssid) == 0 {
		return "", false, nil
	}
	return string(ssid), true, nil
}
