package app

import (
	"strings"
	"time"

	"netwatch/internal/classify"
	"netwatch/internal/config"
	"netwatch/internal/identity"
	"netwatch/internal/monitor"
	"netwatch/internal/observability"
	"netwatch/internal/probe"
	"netwatch/internal/storage"
	logx "netwatch/pkg/logx"
	"netwatch/pkg/speedtest"
)

// Overrides are CLI flag values. Nil fields were not given.
type Overrides struct {
	Interval       *string
	Address        *string
	LogDir         *string
	ProbeTimeout   *string
	IdentitySource *string
	StaticIdentity *string
	LogLevel       *string
	ThresholdMs    *float64
	MinDownload    *float64
	Silent         *bool
}

func (o Overrides) apply(cfg *config.Config) {
	setStr := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setStr(&cfg.Interval, o.Interval)
	setStr(&cfg.Address, o.Address)
	setStr(&cfg.LogDir, o.LogDir)
	setStr(&cfg.ProbeTimeout, o.ProbeTimeout)
	setStr(&cfg.Identity.Source, o.IdentitySource)
	setStr(&cfg.Logging.Level, o.LogLevel)
	if o.StaticIdentity != nil {
		cfg.Identity.Static = *o.StaticIdentity
		if o.IdentitySource == nil {
			cfg.Identity.Source = "static"
		}
	}
	if o.ThresholdMs != nil {
		cfg.Threshold.LatencyMs = *o.ThresholdMs
	}
	if o.MinDownload != nil {
		cfg.Threshold.MinDownloadMbps = *o.MinDownload
	}
	if o.Silent != nil {
		cfg.Silent = *o.Silent
	}
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func identityConfig(cfg *config.Config) identity.Config {
	return identity.Config{
		Source:         cfg.Identity.Source,
		Interface:      cfg.Identity.Interface,
		Static:         cfg.Identity.Static,
		UnredactorPath: cfg.Identity.UnredactorPath,
	}
}

func probeConfig(cfg *config.Config, res *config.Resolved) (probe.Config, error) {
	kind, err := probe.ParseKind(cfg.Mode)
	if err != nil {
		return probe.Config{}, err
	}
	st := cfg.Speedtest
	return probe.Config{
		Kind:       kind,
		Address:    cfg.Address,
		Method:     cfg.Ping.Method,
		Privileged: cfg.Ping.Privileged,
		Speedtest: speedtest.RunConfig{
			ServerCount:       st.ServerCount,
			FullTestServers:   st.FullTestServers,
			SavingMode:        st.SavingMode,
			MaxConnections:    st.MaxConnections,
			PingConcurrency:   st.PingConcurrency,
			OperationTimeout:  res.ProbeTimeout,
			DisableHTTP2:      st.DisableHTTP2,
			DisableKeepAlives: st.DisableKeepAlives,
			PacketLoss:        st.PacketLoss,
			PacketLossTimeout: res.PacketLossTimeout,
			FreeOSMemory:      st.FreeOSMemory,
		},
	}, nil
}

func settings(cfg *config.Config, res *config.Resolved, now time.Time) monitor.Settings {
	return monitor.Settings{
		Threshold: classify.Threshold{
			LatencyMs:        cfg.Threshold.LatencyMs,
			ExpectedInterval: res.Schedule.Expected(now),
			GapFactor:        cfg.Threshold.GapFactor,
			MinDownloadMbps:  cfg.Threshold.MinDownloadMbps,
			MinUploadMbps:    cfg.Threshold.MinUploadMbps,
			DeltaUnit:        res.DeltaUnit,
		},
		Silent: cfg.Silent,
	}
}

// storageConfig reports false when the mirror is disabled.
func storageConfig(cfg *config.Config, res *config.Resolved) (storage.Config, bool) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: res.StorageBusyTimeout,
		MaxRecords:  sc.MaxRecords,
		MaxAgeDays:  sc.MaxAgeDays,
	}, true
}

func debugConfig(cfg *config.Config, res *config.Resolved) observability.DebugConfig {
	return observability.DebugConfig{
		Enabled:       cfg.Debug.Enabled,
		Addr:          strings.TrimSpace(cfg.Debug.Addr),
		Token:         strings.TrimSpace(cfg.Debug.Token),
		AllowInsecure: cfg.Debug.AllowInsecure,
		Pprof:         cfg.Debug.Pprof,
		ReadTimeout:   res.DebugReadTimeout,
		IdleTimeout:   res.DebugIdleTimeout,
	}
}
