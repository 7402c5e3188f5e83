package speedtest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRunConfigDefaults(t *testing.T) {
	got := RunConfig{ServerCount: 2, FullTestServers: 5}.withDefaults()
	if got.ServerCount != 2 || got.FullTestServers != 2 {
		t.Fatalf("full test servers should be capped: %+v", got)
	}
	if got.MaxConnections != 4 || got.PingConcurrency != 4 || got.PacketLossTimeout != 3*time.Second {
		t.Fatalf("defaults=%+v", got)
	}

	got = RunConfig{}.withDefaults()
	if got.ServerCount != 5 || got.FullTestServers != 1 {
		t.Fatalf("zero config=%+v", got)
	}
}

func TestDialTimeout(t *testing.T) {
	tests := []struct {
		op   time.Duration
		want time.Duration
	}{
		{0, 10 * time.Second},
		{-time.Second, 10 * time.Second},
		{time.Minute, 10 * time.Second},
		{8 * time.Second, 4 * time.Second},
		{time.Second, 2 * time.Second},
	}
	for _, tt := range tests {
		if got := dialTimeout(tt.op); got != tt.want {
			t.Fatalf("dialTimeout(%s) = %s, want %s", tt.op, got, tt.want)
		}
	}
}

func TestAverageAndBest(t *testing.T) {
	ms := []measurement{
		{download: 100, upload: 10, ping: 20 * time.Millisecond},
		{download: 50, upload: 30, ping: 10 * time.Millisecond},
		{download: 80, upload: 20, ping: 10 * time.Millisecond},
	}
	avg := average(ms)
	if avg.download != 230.0/3 || avg.upload != 20 || avg.ping != 40*time.Millisecond/3 {
		t.Fatalf("average=%+v", avg)
	}
	if b := best(ms); b.download != 80 {
		t.Fatalf("best should prefer lower ping then higher download, got %+v", b)
	}
	if got := average(nil); got != (measurement{}) {
		t.Fatalf("average(nil)=%+v", got)
	}
}

type recordingTransport struct {
	mu   sync.Mutex
	reqs []*http.Request
}

func (r *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return nil, errors.New("offline")
}

func TestClientUsesRunTransport(t *testing.T) {
	rec := &recordingTransport{}
	hc := &http.Client{Transport: rec}
	client := newClient(RunConfig{}.withDefaults(), hc)

	if _, err := client.FetchUserInfoContext(context.Background()); err == nil {
		t.Fatalf("expected the recording transport's error")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.reqs) != 1 {
		t.Fatalf("requests through run transport = %d, want 1", len(rec.reqs))
	}
	if ua := rec.reqs[0].Header.Get("User-Agent"); !strings.Contains(ua, "speedtest-go") {
		t.Fatalf("user agent=%q", ua)
	}
}

func TestNewHTTPClientHonoursFlags(t *testing.T) {
	_, tr := newHTTPClient(RunConfig{DisableHTTP2: true, DisableKeepAlives: true})
	if tr.ForceAttemptHTTP2 || tr.TLSNextProto == nil || !tr.DisableKeepAlives {
		t.Fatalf("transport=%+v", tr)
	}
	_, tr = newHTTPClient(RunConfig{MaxConnections: 8})
	if !tr.ForceAttemptHTTP2 || tr.MaxIdleConnsPerHost != 8 {
		t.Fatalf("transport=%+v", tr)
	}
}
