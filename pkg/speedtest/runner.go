package speedtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// RunConfig controls how a throughput test is executed.
type RunConfig struct {
	// ServerCount is how many of the closest servers get a latency test.
	ServerCount int
	// FullTestServers is how many of the lowest-latency servers get a full
	// download/upload test. They run sequentially to keep peak memory low.
	FullTestServers int

	SavingMode     bool
	MaxConnections int

	// PingConcurrency caps concurrent latency tests.
	PingConcurrency int

	// OperationTimeout feeds the HTTP dial timeout heuristic.
	// It does not wrap the context passed to Run.
	OperationTimeout time.Duration

	DisableHTTP2      bool
	DisableKeepAlives bool

	// PacketLoss enables the (slower) packet loss probe against the chosen server.
	PacketLoss        bool
	PacketLossTimeout time.Duration

	// FreeOSMemory returns memory to the OS after every run.
	FreeOSMemory bool
}

func (c RunConfig) withDefaults() RunConfig {
	if c.ServerCount <= 0 {
		c.ServerCount = 5
	}
	if c.FullTestServers <= 0 {
		c.FullTestServers = 1
	}
	if c.FullTestServers > c.ServerCount {
		c.FullTestServers = c.ServerCount
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = 4
	}
	if c.PacketLossTimeout <= 0 {
		c.PacketLossTimeout = 3 * time.Second
	}
	return c
}

var (
	ErrNoServers      = errors.New("no servers available")
	ErrLatencyFailed  = errors.New("all latency tests failed")
	ErrFullTestFailed = errors.New("full test failed for all servers")
)

// Runner executes throughput tests against speedtest.net servers.
type Runner struct {
	cfg     RunConfig
	spawner Spawner
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSpawner makes the runner start its latency goroutines through s.
func WithSpawner(s Spawner) Option { return func(r *Runner) { r.spawner = s } }

func NewRunner(cfg RunConfig, opts ...Option) *Runner {
	r := &Runner{cfg: cfg.withDefaults()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes a single throughput test.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := r.cfg

	ctx, cancel := context.WithCancel(ctx)
	start := time.Now()

	hc, tr := newHTTPClient(cfg)

	// A private client per run: the package-level speedtest-go helpers keep
	// snapshots alive between runs.
	client := newClient(cfg, hc)
	client.SetNThread(cfg.MaxConnections)

	defer func() {
		cancel()
		client.Snapshots().Clean()
		client.Reset()
		tr.CloseIdleConnections()
		if cfg.FreeOSMemory {
			debug.FreeOSMemory()
		}
	}()

	user, err := client.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}

	candidates, err := r.closestServers(ctx, client)
	if err != nil {
		return nil, err
	}

	pinged := r.pingCandidates(ctx, candidates)
	if len(pinged) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrLatencyFailed
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })
	if len(pinged) > cfg.FullTestServers {
		pinged = pinged[:cfg.FullTestServers]
	}

	measured := make([]measurement, 0, len(pinged))
	for _, s := range pinged {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, ok := measure(ctx, s)
		// Drop per-test snapshots early.
		client.Snapshots().Clean()
		client.Reset()
		if ok {
			measured = append(measured, m)
		}
	}
	if len(measured) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrFullTestFailed
	}

	avg := average(measured)
	chosen := best(measured)

	loss := 0.0
	if cfg.PacketLoss {
		plCtx, plCancel := context.WithTimeout(ctx, cfg.PacketLossTimeout)
		loss = packetLoss(plCtx, chosen.server.Host)
		plCancel()
	}

	// Jitter from the chosen server, else a rough estimate.
	jitter := float64(chosen.server.Jitter.Milliseconds())
	if jitter <= 0 {
		jitter = math.Max(0.1, float64(avg.ping.Milliseconds())*0.1)
	}

	return &Result{
		Timestamp:      start,
		DownloadMbps:   avg.download,
		UploadMbps:     avg.upload,
		PingMs:         float64(avg.ping.Microseconds()) / 1000,
		JitterMs:       jitter,
		PacketLoss:     loss,
		ISP:            user.Isp,
		ServerName:     chosen.server.Sponsor,
		ServerCountry:  chosen.server.Country,
		Duration:       time.Since(start),
		CandidateCount: len(candidates),
		FullTestCount:  len(measured),
	}, nil
}

// closestServers returns up to ServerCount available servers sorted by distance.
func (r *Runner) closestServers(ctx context.Context, client *st.Speedtest) ([]*st.Server, error) {
	servers, err := client.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	n := r.cfg.ServerCount
	if n > len(servers) {
		n = len(servers)
	}
	return servers[:n], nil
}

// pingCandidates latency-tests servers with bounded concurrency and returns
// the ones that answered.
func (r *Runner) pingCandidates(ctx context.Context, servers []*st.Server) []*st.Server {
	sem := make(chan struct{}, r.cfg.PingConcurrency)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
		ok = make([]*st.Server, 0, len(servers))
	)

	for i, s := range servers {
		s := s
		wg.Add(1)
		r.spawn(fmt.Sprintf("speedtest.ping.%d", i), func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				return
			}
			mu.Lock()
			ok = append(ok, s)
			mu.Unlock()
		})
	}
	wg.Wait()
	return ok
}

func (r *Runner) spawn(name string, fn func()) {
	if r.spawner != nil {
		r.spawner.Go(name, fn)
		return
	}
	go fn()
}

type measurement struct {
	server   *st.Server
	download float64
	upload   float64
	ping     time.Duration
}

func measure(ctx context.Context, s *st.Server) (measurement, bool) {
	if err := s.DownloadTestContext(ctx); err != nil {
		return measurement{}, false
	}
	if err := s.UploadTestContext(ctx); err != nil {
		return measurement{}, false
	}
	return measurement{
		server:   s,
		download: s.DLSpeed.Mbps(),
		upload:   s.ULSpeed.Mbps(),
		ping:     s.Latency,
	}, true
}

func average(ms []measurement) measurement {
	if len(ms) == 0 {
		return measurement{}
	}
	var out measurement
	for _, m := range ms {
		out.download += m.download
		out.upload += m.upload
		out.ping += m.ping
	}
	n := len(ms)
	out.download /= float64(n)
	out.upload /= float64(n)
	out.ping /= time.Duration(n)
	return out
}

// best prefers lower ping, then higher download.
func best(ms []measurement) measurement {
	b := ms[0]
	for _, m := range ms[1:] {
		if m.ping < b.ping || (m.ping == b.ping && m.download > b.download) {
			b = m
		}
	}
	return b
}

func packetLoss(ctx context.Context, host string) float64 {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return 0
	}
	pla := st.NewPacketLossAnalyzer(nil)
	pl, err := pla.RunMultiWithContext(ctx, []string{host})
	if err != nil || pl == nil {
		return 0
	}
	return pl.LossPercent()
}
