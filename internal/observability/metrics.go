// Package observability exposes monitor metrics and the debug HTTP server.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netwatch/internal/classify"
	"netwatch/internal/identity"
	"netwatch/internal/probe"
	"netwatch/internal/session"
)

// Metrics records loop activity on its own registry. It implements
// monitor.Hooks.
type Metrics struct {
	reg *prometheus.Registry

	samples         *prometheus.CounterVec
	probeDuration   *prometheus.HistogramVec
	persistErrors   prometheus.Counter
	storageErrors   prometheus.Counter
	identityChanges prometheus.Counter
	cyclesLost      prometheus.Counter
	lastLatency     *prometheus.GaugeVec
	lastDownload    prometheus.Gauge
	lastUpload      prometheus.Gauge
	lastSample      prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netwatch_samples_total",
			Help: "Samples classified, by severity.",
		}, []string{"severity"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netwatch_probe_duration_seconds",
			Help:    "Wall time of one probe attempt.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 16),
		}, []string{"kind"}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwatch_persistence_errors_total",
			Help: "Session log writes that failed.",
		}),
		storageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwatch_storage_errors_total",
			Help: "Samples the storage mirror could not append.",
		}),
		identityChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwatch_identity_changes_total",
			Help: "Network identity switches.",
		}),
		cyclesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwatch_cycles_lost_total",
			Help: "Cycles whose sample was not recorded.",
		}),
		lastLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netwatch_last_latency_ms",
			Help: "Latency of the last successful sample.",
		}, []string{"kind"}),
		lastDownload: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netwatch_last_download_mbps",
			Help: "Download rate of the last successful speed test.",
		}),
		lastUpload: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netwatch_last_upload_mbps",
			Help: "Upload rate of the last successful speed test.",
		}),
		lastSample: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netwatch_last_sample_timestamp_seconds",
			Help: "Unix time of the last classified sample.",
		}),
	}
	m.reg.MustRegister(
		m.samples, m.probeDuration, m.persistErrors, m.storageErrors, m.identityChanges,
		m.cyclesLost, m.lastLatency, m.lastDownload, m.lastUpload, m.lastSample,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) IdentityChanged(from, to identity.Identity) {
	m.identityChanges.Inc()
}

func (m *Metrics) SampleRecorded(s classify.Sample, probeDuration time.Duration) {
	m.samples.WithLabelValues(string(s.Severity)).Inc()
	m.probeDuration.WithLabelValues(string(s.Kind)).Observe(probeDuration.Seconds())
	m.lastSample.Set(float64(s.Timestamp.UnixNano()) / 1e9)
	if s.Severity == classify.Failed {
		return
	}
	switch s.Kind {
	case probe.KindPing:
		m.lastLatency.WithLabelValues(string(s.Kind)).Set(s.Measurements.RoundTripMs)
	case probe.KindThroughput:
		m.lastLatency.WithLabelValues(string(s.Kind)).Set(s.Measurements.PingMs)
		m.lastDownload.Set(s.Measurements.DownloadMbps)
		m.lastUpload.Set(s.Measurements.UploadMbps)
	}
}

func (m *Metrics) CycleLost(err error) {
	m.cyclesLost.Inc()
	var pe *session.PersistenceError
	if errors.As(err, &pe) {
		m.persistErrors.Inc()
	}
}

// StorageFailed counts a failed storage mirror append.
func (m *Metrics) StorageFailed() { m.storageErrors.Inc() }
