package probe

import (
	"context"
	"errors"
	"time"

	"netwatch/pkg/speedtest"
)

// SpeedTest measures throughput through a speedtest.Measurer.
type SpeedTest struct {
	m speedtest.Measurer
}

func NewSpeedTest(m speedtest.Measurer) *SpeedTest { return &SpeedTest{m: m} }

func (s *SpeedTest) Kind() Kind { return KindThroughput }

func (s *SpeedTest) Probe(ctx context.Context) Result {
	start := time.Now()
	if s.m == nil {
		return Failure(KindThroughput, time.Time{}, errors.New("speedtest: no measurer configured"))
	}
	res, err := s.m.Run(ctx)
	if err == nil && res == nil {
		err = errors.New("speedtest: empty result")
	}
	if err != nil {
		return Result{Kind: KindThroughput, Err: err, Duration: time.Since(start)}
	}

	server := res.ServerName
	if res.ServerCountry != "" {
		server += ", " + res.ServerCountry
	}
	d := res.Duration
	if d == 0 {
		d = time.Since(start)
	}
	return Result{
		Kind:     KindThroughput,
		Duration: d,
		Throughput: Throughput{
			DownloadMbps: res.DownloadMbps,
			UploadMbps:   res.UploadMbps,
			PingMs:       res.PingMs,
			PacketLoss:   res.PacketLoss,
			ISP:          res.ISP,
			Server:       server,
		},
	}
}
