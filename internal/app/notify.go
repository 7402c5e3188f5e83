package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"netwatch/internal/classify"
	"netwatch/internal/identity"
	logx "netwatch/pkg/logx"
)

// sdNotifier speaks the systemd notify protocol. Every call is a no-op when
// NOTIFY_SOCKET is unset.
type sdNotifier struct {
	log  logx.Logger
	send func(state string) (bool, error)
}

func newSdNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log:  log.With(logx.String("comp", "systemd")),
		send: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *sdNotifier) notify(state string) {
	if _, err := n.send(state); err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

func (n *sdNotifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// Watchdog pets the systemd watchdog at half its interval until ctx is done.
// It returns immediately when the unit has no WatchdogSec.
func (n *sdNotifier) Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}

func (n *sdNotifier) IdentityChanged(from, to identity.Identity) {}

func (n *sdNotifier) CycleLost(err error) {}

// SampleRecorded publishes the latest sample as the unit status line.
func (n *sdNotifier) SampleRecorded(s classify.Sample, _ time.Duration) {
	n.notify(fmt.Sprintf("STATUS=%s: %s %s", s.Identity, s.Severity, s.Label))
}
