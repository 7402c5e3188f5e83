package classify

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"netwatch/internal/identity"
	"netwatch/internal/probe"
)

var t0 = time.Date(2024, 5, 4, 9, 30, 0, 0, time.Local)

func pingResult(at time.Time, rtt float64) probe.Result {
	return probe.Result{
		Kind:      probe.KindPing,
		Timestamp: at,
		Ping:      probe.Ping{RoundTripMs: rtt, TTL: 117, Bytes: 64, Target: "8.8.8.8"},
	}
}

func TestClassifyDelta(t *testing.T) {
	th := Threshold{DeltaUnit: time.Second}

	first := Classify(pingResult(t0, 10), "HomeNet", nil, th)
	if first.Delta != 0 {
		t.Fatalf("first delta=%v", first.Delta)
	}

	prev := t0
	second := Classify(pingResult(t0.Add(1500*time.Millisecond), 10), "HomeNet", &prev, th)
	if second.Delta != 1.5 {
		t.Fatalf("second delta=%v", second.Delta)
	}

	minutes := Threshold{DeltaUnit: time.Minute}
	thr := probe.Result{Kind: probe.KindThroughput, Timestamp: t0.Add(90 * time.Second)}
	if got := Classify(thr, "HomeNet", &prev, minutes).Delta; got != 1.5 {
		t.Fatalf("minute delta=%v", got)
	}
}

func TestClassifySeverity(t *testing.T) {
	prev := t0.Add(-time.Second)
	cases := []struct {
		name string
		res  probe.Result
		prev *time.Time
		th   Threshold
		want Severity
	}{
		{"below", pingResult(t0, 99), nil, Threshold{LatencyMs: 100}, Normal},
		{"equal is normal", pingResult(t0, 100), nil, Threshold{LatencyMs: 100}, Normal},
		{"above", pingResult(t0, 101), nil, Threshold{LatencyMs: 100}, Degraded},
		{"no threshold", pingResult(t0, 5000), nil, Threshold{}, Normal},
		{"gap within factor", pingResult(t0, 10), &prev, Threshold{ExpectedInterval: 500 * time.Millisecond}, Normal},
		{"gap exceeded", pingResult(t0.Add(time.Second), 10), &prev, Threshold{ExpectedInterval: 500 * time.Millisecond}, Degraded},
		{
			"slow download",
			probe.Result{Kind: probe.KindThroughput, Timestamp: t0, Throughput: probe.Throughput{DownloadMbps: 4, UploadMbps: 50, PingMs: 10}},
			nil, Threshold{MinDownloadMbps: 5}, Degraded,
		},
		{
			"throughput ping",
			probe.Result{Kind: probe.KindThroughput, Timestamp: t0, Throughput: probe.Throughput{DownloadMbps: 40, PingMs: 250}},
			nil, Threshold{LatencyMs: 200}, Degraded,
		},
		{"failure", probe.Failure(probe.KindPing, t0, errors.New("connect: connection refused")), nil, Threshold{LatencyMs: 100}, Failed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.res, "HomeNet", tc.prev, tc.th).Severity; got != tc.want {
				t.Fatalf("severity=%s want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyFailureZeroesMeasurements(t *testing.T) {
	res := probe.Failure(probe.KindThroughput, t0, errors.New("dial tcp 1.2.3.4:8080: connect: connection refused"))
	res.Throughput = probe.Throughput{DownloadMbps: 12, ISP: "stale"}

	s := Classify(res, "OfficeNet", nil, Threshold{})
	if s.Measurements != (Measurements{}) {
		t.Fatalf("measurements not zeroed: %+v", s.Measurements)
	}
	if s.Label != "Error: connection refused" {
		t.Fatalf("label=%q", s.Label)
	}
	if s.Identity != identity.Identity("OfficeNet") || !s.Timestamp.Equal(t0) {
		t.Fatalf("unexpected sample: %+v", s)
	}
}

func TestClassifyIsPure(t *testing.T) {
	prev := t0
	res := pingResult(t0.Add(2*time.Second), 150)
	th := Threshold{LatencyMs: 100, ExpectedInterval: time.Second, DeltaUnit: time.Second}

	a := Classify(res, "HomeNet", &prev, th)
	b := Classify(res, "HomeNet", &prev, th)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("classify not deterministic:\n%+v\n%+v", a, b)
	}
	if !prev.Equal(t0) {
		t.Fatalf("prev mutated")
	}
}
