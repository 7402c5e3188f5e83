package config

// Config is the on-disk configuration (JSON or YAML). CLI flags override it.
//
// Durations are Go duration strings ("500ms", "10s", "5m"). Interval also
// accepts HH:MM, a cron expression, or a bare integer in the mode's unit
// (minutes for speed, seconds for ping).
type Config struct {
	// Mode is "ping" or "speed".
	Mode     string `json:"mode"`
	Interval string `json:"interval,omitempty"`
	Address  string `json:"address,omitempty"`
	Silent   bool   `json:"silent,omitempty"`
	LogDir   string `json:"log_dir,omitempty"`

	// ProbeTimeout bounds one probe. Defaults depend on the mode.
	ProbeTimeout string `json:"probe_timeout,omitempty"`

	Threshold ThresholdConfig `json:"threshold"`
	Identity  IdentityConfig  `json:"identity"`
	Ping      PingConfig      `json:"ping"`
	Speedtest SpeedtestConfig `json:"speedtest"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Debug     DebugConfig     `json:"debug"`
}

// ThresholdConfig marks samples as degraded. Zero disables a limit.
type ThresholdConfig struct {
	LatencyMs       float64 `json:"latency_ms,omitempty"`
	GapFactor       float64 `json:"gap_factor,omitempty"`
	MinDownloadMbps float64 `json:"min_download_mbps,omitempty"`
	MinUploadMbps   float64 `json:"min_upload_mbps,omitempty"`
}

// IdentityConfig selects how the current network name is read.
//
// Source values: "auto", "networksetup", "unredactor", "networkmanager", "static".
type IdentityConfig struct {
	Source         string `json:"source,omitempty"`
	Interface      string `json:"interface,omitempty"`
	Static         string `json:"static,omitempty"`
	UnredactorPath string `json:"unredactor_path,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
}

// PingConfig selects the ping implementation: "system" runs the ping
// binary, "icmp" sends the echo request itself.
type PingConfig struct {
	Method     string `json:"method,omitempty"`
	Privileged bool   `json:"privileged,omitempty"`
}

type SpeedtestConfig struct {
	ServerCount       int    `json:"server_count,omitempty"`
	FullTestServers   int    `json:"full_test_servers,omitempty"`
	SavingMode        bool   `json:"saving_mode,omitempty"`
	MaxConnections    int    `json:"max_connections,omitempty"`
	PingConcurrency   int    `json:"ping_concurrency,omitempty"`
	DisableHTTP2      bool   `json:"disable_http2,omitempty"`
	DisableKeepAlives bool   `json:"disable_keep_alives,omitempty"`
	PacketLoss        bool   `json:"packet_loss,omitempty"`
	PacketLossTimeout string `json:"packet_loss_timeout,omitempty"`
	FreeOSMemory      bool   `json:"free_os_memory,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional sample mirror.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./netwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxRecords  int    `json:"max_records,omitempty"`  // jsonl
	MaxAgeDays  int    `json:"max_age_days,omitempty"` // jsonl
}

// DebugConfig controls the debug HTTP server (/metrics and pprof).
//
// Prefer binding to localhost. A non-loopback address needs a token or
// allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}
