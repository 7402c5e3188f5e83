package app

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"netwatch/internal/classify"
	"netwatch/internal/identity"
	"netwatch/internal/storage"
	logx "netwatch/pkg/logx"
)

// mirror copies every classified sample into the storage backend. Failures
// are warnings; the session log stays the record of truth.
type mirror struct {
	store   storage.Store
	runID   string
	timeout time.Duration
	log     logx.Logger
	warn    *logx.Throttle
	failed  func()
}

func newMirror(store storage.Store, runID string, log logx.Logger, failed func()) *mirror {
	return &mirror{
		store:   store,
		runID:   runID,
		timeout: 2 * time.Second,
		log:     log.With(logx.String("comp", "mirror")),
		warn:    logx.NewThrottle(rate.Every(time.Minute), 1),
		failed:  failed,
	}
}

func (m *mirror) IdentityChanged(from, to identity.Identity) {}

func (m *mirror) CycleLost(err error) {}

func (m *mirror) SampleRecorded(s classify.Sample, _ time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.store.Append(ctx, toRecord(m.runID, s)); err != nil {
		if m.failed != nil {
			m.failed()
		}
		m.warn.Warn(m.log, "storage append failed", logx.Err(err))
	}
}

func toRecord(runID string, s classify.Sample) storage.Record {
	return storage.Record{
		RunID:        runID,
		At:           s.Timestamp,
		Network:      s.Identity.String(),
		Kind:         string(s.Kind),
		Severity:     string(s.Severity),
		Delta:        s.Delta,
		RoundTripMs:  s.Measurements.RoundTripMs,
		TTL:          s.Measurements.TTL,
		DownloadMbps: s.Measurements.DownloadMbps,
		UploadMbps:   s.Measurements.UploadMbps,
		PingMs:       s.Measurements.PingMs,
		PacketLoss:   s.Measurements.PacketLoss,
		Label:        s.Label,
		Server:       s.Server,
	}
}
