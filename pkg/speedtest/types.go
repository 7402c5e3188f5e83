package speedtest

import (
	"context"
	"time"
)

// Result is a single throughput measurement.
//
// JSON tags are stable: results are mirrored into sample storage.
type Result struct {
	Timestamp     time.Time `json:"timestamp"`
	DownloadMbps  float64   `json:"download_mbps"`
	UploadMbps    float64   `json:"upload_mbps"`
	PingMs        float64   `json:"ping_ms"`
	JitterMs      float64   `json:"jitter_ms"`
	PacketLoss    float64   `json:"packet_loss"`
	ISP           string    `json:"isp"`
	ServerName    string    `json:"server_name"`
	ServerCountry string    `json:"server_country"`

	// Non-persisted fields (useful for logging).
	Duration       time.Duration `json:"-"`
	CandidateCount int           `json:"-"`
	FullTestCount  int           `json:"-"`
}

// Measurer runs one throughput test. *Runner implements it.
type Measurer interface {
	Run(ctx context.Context) (*Result, error)
}
