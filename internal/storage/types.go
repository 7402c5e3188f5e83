package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite; 0 means default
	MaxRecords  int           // jsonl; 0 means DefaultMaxRecords
	MaxAgeDays  int           // jsonl; 0 means DefaultMaxAgeDays
	MaxBytes    int64         // jsonl; 0 means DefaultMaxBytes
}

// Record is one mirrored sample. Keep it flat and schema-stable.
type Record struct {
	ID       string    `json:"id"`
	RunID    string    `json:"run_id"`
	At       time.Time `json:"at"`
	Network  string    `json:"network"`
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Delta    float64   `json:"delta"`

	RoundTripMs  float64 `json:"rtt_ms,omitempty"`
	TTL          int     `json:"ttl,omitempty"`
	DownloadMbps float64 `json:"download_mbps,omitempty"`
	UploadMbps   float64 `json:"upload_mbps,omitempty"`
	PingMs       float64 `json:"ping_ms,omitempty"`
	PacketLoss   float64 `json:"packet_loss,omitempty"`

	Label  string `json:"label,omitempty"`
	Server string `json:"server,omitempty"`
}

// Store persists records.
type Store interface {
	Append(ctx context.Context, r Record) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]Record, error)
	Close() error
}
