// Package classify turns probe results into log samples.
package classify

import (
	"time"

	"netwatch/internal/identity"
	"netwatch/internal/probe"
)

// Severity grades a sample.
type Severity string

const (
	Normal   Severity = "normal"
	Degraded Severity = "degraded"
	Failed   Severity = "failed"
)

// DefaultGapFactor flags a sample as degraded when it arrives later than
// GapFactor times the expected interval.
const DefaultGapFactor = 2.0

// Threshold holds the limits a sample is checked against. Zero disables a limit.
type Threshold struct {
	LatencyMs        float64
	ExpectedInterval time.Duration
	GapFactor        float64
	MinDownloadMbps  float64
	MinUploadMbps    float64
	// DeltaUnit is the unit Sample.Delta is expressed in. Zero means seconds.
	DeltaUnit time.Duration
}

// Measurements are the numeric columns of a sample.
type Measurements struct {
	RoundTripMs  float64
	TTL          int
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64
	PacketLoss   float64
}

// Sample is one log record.
type Sample struct {
	Timestamp    time.Time
	Identity     identity.Identity
	Delta        float64
	Kind         probe.Kind
	Measurements Measurements
	// Label is the target (ping), the ISP (throughput) or "Error: <summary>".
	Label    string
	Server   string
	Severity Severity
}

// Classify builds the Sample for r. prev is the timestamp of the previous
// sample on the same network, nil for the first one.
func Classify(r probe.Result, id identity.Identity, prev *time.Time, th Threshold) Sample {
	s := Sample{
		Timestamp: r.Timestamp,
		Identity:  id,
		Kind:      r.Kind,
	}

	var gap time.Duration
	if prev != nil {
		gap = r.Timestamp.Sub(*prev)
		unit := th.DeltaUnit
		if unit <= 0 {
			unit = time.Second
		}
		s.Delta = float64(gap) / float64(unit)
	}

	if r.Failed() {
		s.Label = "Error: " + r.ErrorSummary()
		s.Severity = Failed
		return s
	}

	var latency float64
	switch r.Kind {
	case probe.KindPing:
		s.Measurements.RoundTripMs = r.Ping.RoundTripMs
		s.Measurements.TTL = r.Ping.TTL
		s.Label = r.Ping.Target
		latency = r.Ping.RoundTripMs
	case probe.KindThroughput:
		s.Measurements.DownloadMbps = r.Throughput.DownloadMbps
		s.Measurements.UploadMbps = r.Throughput.UploadMbps
		s.Measurements.PingMs = r.Throughput.PingMs
		s.Measurements.PacketLoss = r.Throughput.PacketLoss
		s.Label = r.Throughput.ISP
		s.Server = r.Throughput.Server
		latency = r.Throughput.PingMs
	}

	s.Severity = Normal
	if degraded(s, latency, prev != nil, gap, th) {
		s.Severity = Degraded
	}
	return s
}

func degraded(s Sample, latency float64, hasPrev bool, gap time.Duration, th Threshold) bool {
	if th.LatencyMs > 0 && latency > th.LatencyMs {
		return true
	}
	if hasPrev && th.ExpectedInterval > 0 {
		factor := th.GapFactor
		if factor <= 0 {
			factor = DefaultGapFactor
		}
		if float64(gap) > factor*float64(th.ExpectedInterval) {
			return true
		}
	}
	if s.Kind == probe.KindThroughput {
		if th.MinDownloadMbps > 0 && s.Measurements.DownloadMbps < th.MinDownloadMbps {
			return true
		}
		if th.MinUploadMbps > 0 && s.Measurements.UploadMbps < th.MinUploadMbps {
			return true
		}
	}
	return false
}
