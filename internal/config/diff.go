package config

import (
	"strings"

	logx "netwatch/pkg/logx"
)

// SummarizeConfigChange lists the changed sections and returns log fields
// describing the new values. Secrets (debug.token) are never included.
//
// restart reports changes that only take effect after a restart (mode,
// address, log dir, identity source, storage, probe settings).
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, fields []logx.Field, restart bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	trim := strings.TrimSpace

	if oldCfg.Threshold != newCfg.Threshold {
		changed = append(changed, "threshold")
		fields = append(fields,
			logx.Float64("threshold.latency_ms", newCfg.Threshold.LatencyMs),
			logx.Float64("threshold.gap_factor", newCfg.Threshold.GapFactor),
			logx.Float64("threshold.min_download_mbps", newCfg.Threshold.MinDownloadMbps),
			logx.Float64("threshold.min_upload_mbps", newCfg.Threshold.MinUploadMbps),
		)
	}
	if oldCfg.Silent != newCfg.Silent {
		changed = append(changed, "silent")
		fields = append(fields, logx.Bool("silent", newCfg.Silent))
	}
	if trim(oldCfg.Interval) != trim(newCfg.Interval) {
		changed = append(changed, "interval")
		fields = append(fields, logx.String("interval", trim(newCfg.Interval)))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Debug.Enabled != newCfg.Debug.Enabled ||
		trim(oldCfg.Debug.Addr) != trim(newCfg.Debug.Addr) ||
		oldCfg.Debug.Pprof != newCfg.Debug.Pprof ||
		oldCfg.Debug.AllowInsecure != newCfg.Debug.AllowInsecure ||
		oldCfg.Debug.ReadTimeout != newCfg.Debug.ReadTimeout ||
		oldCfg.Debug.IdleTimeout != newCfg.Debug.IdleTimeout ||
		(trim(oldCfg.Debug.Token) != "") != (trim(newCfg.Debug.Token) != "") {
		changed = append(changed, "debug")
		fields = append(fields,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", trim(newCfg.Debug.Addr)),
			logx.Bool("debug.pprof", newCfg.Debug.Pprof),
			logx.Bool("debug.token_set", trim(newCfg.Debug.Token) != ""),
		)
	}

	if oldCfg.Mode != newCfg.Mode ||
		trim(oldCfg.Address) != trim(newCfg.Address) ||
		trim(oldCfg.LogDir) != trim(newCfg.LogDir) ||
		oldCfg.ProbeTimeout != newCfg.ProbeTimeout ||
		oldCfg.Identity != newCfg.Identity ||
		oldCfg.Ping != newCfg.Ping ||
		oldCfg.Speedtest != newCfg.Speedtest ||
		!sameStorage(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "probe")
		restart = true
	}
	return changed, fields, restart
}

func sameStorage(a, b *StorageConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
