package monitor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"netwatch/internal/classify"
	"netwatch/internal/identity"
	"netwatch/internal/probe"
	"netwatch/internal/session"
	logx "netwatch/pkg/logx"
)

// immediate fires as soon as the loop asks.
type immediate struct{}

func (immediate) Next(t time.Time) time.Time { return t }

type scriptedIdentity struct {
	mu  sync.Mutex
	ids []identity.Identity
	i   int
}

func (s *scriptedIdentity) Identity(context.Context) identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.ids[len(s.ids)-1]
	if s.i < len(s.ids) {
		id = s.ids[s.i]
	}
	s.i++
	return id
}

type scriptedPing struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) probe.Result
	calls int
}

func (s *scriptedPing) Kind() probe.Kind { return probe.KindPing }

func (s *scriptedPing) Probe(ctx context.Context) probe.Result {
	s.mu.Lock()
	step := s.steps[len(s.steps)-1]
	if s.calls < len(s.steps) {
		step = s.steps[s.calls]
	}
	s.calls++
	s.mu.Unlock()
	return step(ctx)
}

func rtt(ms float64) func(context.Context) probe.Result {
	return func(context.Context) probe.Result {
		return probe.Result{Kind: probe.KindPing, Ping: probe.Ping{RoundTripMs: ms, TTL: 117, Target: "8.8.8.8"}}
	}
}

func fail(err error) func(context.Context) probe.Result {
	return func(context.Context) probe.Result {
		return probe.Result{Kind: probe.KindPing, Err: err}
	}
}

type recordingHooks struct {
	changes [][2]identity.Identity
	samples []classify.Sample
	lost    int
}

func (h *recordingHooks) IdentityChanged(from, to identity.Identity) {
	h.changes = append(h.changes, [2]identity.Identity{from, to})
}
func (h *recordingHooks) SampleRecorded(s classify.Sample, _ time.Duration) {
	h.samples = append(h.samples, s)
}
func (h *recordingHooks) CycleLost(error) { h.lost++ }

type fixture struct {
	dir    string
	mock   *clock.Mock
	loop   *Loop
	router *session.Router
	hooks  *recordingHooks
}

func newFixture(t *testing.T, ids []identity.Identity, exec probe.Executor, th classify.Threshold) *fixture {
	t.Helper()
	dir := t.TempDir()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 4, 9, 0, 0, 0, time.Local))

	router := session.NewRouter(session.Options{Dir: dir, Kind: probe.KindPing})
	hooks := &recordingHooks{}
	loop, err := New(Options{
		Identity:     &scriptedIdentity{ids: ids},
		Executor:     exec,
		Router:       router,
		Schedule:     immediate{},
		ProbeTimeout: time.Minute,
		Settings:     Settings{Threshold: th},
		Clock:        mock,
		Hooks:        []Hooks{hooks},
	})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	t.Cleanup(func() { _ = router.Close() })
	return &fixture{dir: dir, mock: mock, loop: loop, router: router, hooks: hooks}
}

func sampleLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var out []string
	for _, l := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		if strings.HasPrefix(l, "Date ") || strings.Contains(l, "RESTART") {
			continue
		}
		out = append(out, l)
	}
	return out
}

func TestHomeNetOfficeNetScenario(t *testing.T) {
	exec := &scriptedPing{steps: []func(context.Context) probe.Result{rtt(20), rtt(30), rtt(150)}}
	f := newFixture(t, []identity.Identity{"HomeNet", "HomeNet", "OfficeNet"}, exec,
		classify.Threshold{LatencyMs: 100, DeltaUnit: time.Second})
	ctx := context.Background()

	var outs []Outcome
	for i := 0; i < 3; i++ {
		outs = append(outs, f.loop.RunCycle(ctx))
		f.mock.Add(time.Second)
	}

	want := []struct {
		id    identity.Identity
		delta float64
		sev   classify.Severity
	}{
		{"HomeNet", 0, classify.Normal},
		{"HomeNet", 1, classify.Normal},
		{"OfficeNet", 0, classify.Degraded},
	}
	for i, w := range want {
		o := outs[i]
		if !o.Recorded || o.Identity != w.id || o.Sample.Delta != w.delta || o.Sample.Severity != w.sev {
			t.Fatalf("cycle %d: got %+v, want %+v", i, o, w)
		}
	}

	home := sampleLines(t, filepath.Join(f.dir, "HomeNet.log"))
	office := sampleLines(t, filepath.Join(f.dir, "OfficeNet.log"))
	if len(home) != 2 || len(office) != 1 {
		t.Fatalf("home=%d office=%d samples", len(home), len(office))
	}
	if !strings.Contains(office[0], "degraded") {
		t.Fatalf("office sample not degraded: %q", office[0])
	}
	if len(f.hooks.changes) != 1 || f.hooks.changes[0] != [2]identity.Identity{"HomeNet", "OfficeNet"} {
		t.Fatalf("identity changes: %v", f.hooks.changes)
	}
}

func TestDeltaFollowsProbeTimestamps(t *testing.T) {
	exec := &scriptedPing{steps: []func(context.Context) probe.Result{rtt(10)}}
	f := newFixture(t, []identity.Identity{"HomeNet"}, exec, classify.Threshold{DeltaUnit: time.Second})
	ctx := context.Background()

	gaps := []time.Duration{0, 2 * time.Second, 500 * time.Millisecond, 3 * time.Second}
	for i, g := range gaps {
		f.mock.Add(g)
		o := f.loop.RunCycle(ctx)
		want := g.Seconds()
		if i == 0 {
			want = 0
		}
		if o.Sample.Delta != want {
			t.Fatalf("cycle %d: delta=%v want %v", i, o.Sample.Delta, want)
		}
	}
	if st := f.loop.State(); st.Cycles != 4 || st.LastSampleAt == nil || !st.LastSampleAt.Equal(f.mock.Now()) {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestSwitchBackReusesFileWithoutTruncation(t *testing.T) {
	exec := &scriptedPing{steps: []func(context.Context) probe.Result{rtt(10)}}
	f := newFixture(t, []identity.Identity{"A", "B", "A"}, exec, classify.Threshold{DeltaUnit: time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if o := f.loop.RunCycle(ctx); !o.Recorded {
			t.Fatalf("cycle %d not recorded: %v", i, o.Err)
		}
		f.mock.Add(time.Second)
	}

	b, err := os.ReadFile(filepath.Join(f.dir, "A.log"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(b)
	if strings.Count(content, "RESTART") != 2 {
		t.Fatalf("expected two restart markers:\n%s", content)
	}
	if strings.Count(content, session.Header(probe.KindPing)) != 1 {
		t.Fatalf("expected one header:\n%s", content)
	}
	if got := len(sampleLines(t, filepath.Join(f.dir, "A.log"))); got != 2 {
		t.Fatalf("A.log samples=%d", got)
	}
}

func TestEverySampleFailsStillOnePerCycle(t *testing.T) {
	refused := errors.New("dial tcp 127.0.0.1:9: connect: connection refused")
	exec := &scriptedPing{steps: []func(context.Context) probe.Result{fail(refused)}}
	f := newFixture(t, []identity.Identity{"HomeNet"}, exec, classify.Threshold{LatencyMs: 100})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		o := f.loop.RunCycle(ctx)
		if !o.Recorded || o.Sample.Severity != classify.Failed {
			t.Fatalf("cycle %d: %+v", i, o)
		}
		if o.Sample.Label != "Error: connection refused" {
			t.Fatalf("label=%q", o.Sample.Label)
		}
		f.mock.Add(time.Second)
	}
	lines := sampleLines(t, filepath.Join(f.dir, "HomeNet.log"))
	if len(lines) != 5 {
		t.Fatalf("want 5 samples, got %d", len(lines))
	}
	for _, l := range lines {
		if !strings.Contains(l, "failed") || !strings.Contains(l, "Error: connection refused") {
			t.Fatalf("unexpected line %q", l)
		}
	}
}

func TestPanickingProbeIsContained(t *testing.T) {
	exec := &scriptedPing{steps: []func(context.Context) probe.Result{
		func(context.Context) probe.Result { panic("driver exploded") },
		rtt(12),
	}}
	f := newFixture(t, []identity.Identity{"HomeNet"}, exec, classify.Threshold{})
	ctx := context.Background()

	if o := f.loop.RunCycle(ctx); o.Sample.Severity != classify.Failed || !o.Recorded {
		t.Fatalf("panic cycle: %+v", o)
	}
	f.mock.Add(time.Second)
	if o := f.loop.RunCycle(ctx); o.Sample.Severity != classify.Normal {
		t.Fatalf("recovery cycle: %+v", o)
	}
}

func TestPersistenceErrorCountsLostCycle(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	hooks := &recordingHooks{}
	loop, err := New(Options{
		Identity: identity.ProviderFunc(func(context.Context) identity.Identity { return "HomeNet" }),
		Executor: &scriptedPing{steps: []func(context.Context) probe.Result{rtt(10)}},
		Router:   session.NewRouter(session.Options{Dir: blocker, Kind: probe.KindPing}),
		Schedule: immediate{},
		Clock:    clock.NewMock(),
		Hooks:    []Hooks{hooks},
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		o := loop.RunCycle(context.Background())
		var pe *session.PersistenceError
		if o.Recorded || !errors.As(o.Err, &pe) {
			t.Fatalf("cycle %d: %+v", i, o)
		}
	}
	st := loop.State()
	if st.Cycles != 3 || st.Lost != 3 || hooks.lost != 3 || len(hooks.samples) != 0 {
		t.Fatalf("state=%+v hooks=%+v", st, hooks)
	}
}

// leakyRouter reports a failed close on every switch and refuses every write.
type leakyRouter struct {
	*session.Router
}

func (r leakyRouter) Route(ctx context.Context, id identity.Identity, now time.Time) (*session.Handle, error) {
	h, err := r.Router.Route(ctx, id, now)
	if err != nil {
		return nil, err
	}
	return h, errors.New("close failed")
}

func (r leakyRouter) Emit(*session.Handle, classify.Sample) error {
	return errors.New("disk full")
}

func TestCloseAndLostWarningsThrottledSeparately(t *testing.T) {
	var buf bytes.Buffer
	router := session.NewRouter(session.Options{Dir: t.TempDir(), Kind: probe.KindPing})
	t.Cleanup(func() { _ = router.Close() })
	hooks := &recordingHooks{}
	loop, err := New(Options{
		Identity: identity.ProviderFunc(func(context.Context) identity.Identity { return "HomeNet" }),
		Executor: &scriptedPing{steps: []func(context.Context) probe.Result{rtt(10)}},
		Router:   leakyRouter{router},
		Schedule: immediate{},
		Clock:    clock.NewMock(),
		Log:      logx.NewWriter(&buf, "warn"),
		Hooks:    []Hooks{hooks},
	})
	if err != nil {
		t.Fatal(err)
	}

	o := loop.RunCycle(context.Background())
	if o.Recorded || o.Err == nil {
		t.Fatalf("outcome=%+v", o)
	}
	out := buf.String()
	if !strings.Contains(out, "did not close cleanly") || !strings.Contains(out, "sample not persisted") {
		t.Fatalf("both warnings should be logged:\n%s", out)
	}
	if len(hooks.samples) != 0 || hooks.lost != 1 {
		t.Fatalf("hooks=%+v", hooks)
	}
}

func TestRunStopsOnCancelAndClosesRouter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	exec := &scriptedPing{steps: []func(context.Context) probe.Result{
		func(ctx context.Context) probe.Result {
			n++
			if n == 4 {
				cancel()
				return probe.Result{Kind: probe.KindPing, Err: ctx.Err()}
			}
			return probe.Result{Kind: probe.KindPing, Ping: probe.Ping{RoundTripMs: 5}}
		},
	}}
	f := newFixture(t, []identity.Identity{"HomeNet"}, exec, classify.Threshold{})

	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("loop did not stop")
	}
	if f.router.Active() != nil {
		t.Fatalf("router left open")
	}
	// The fourth cycle was interrupted and leaves no sample.
	if got := len(sampleLines(t, filepath.Join(f.dir, "HomeNet.log"))); got != 3 {
		t.Fatalf("samples=%d", got)
	}
}

func TestCancelledProbeAbandonsCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &scriptedPing{steps: []func(context.Context) probe.Result{
		func(ctx context.Context) probe.Result {
			cancel()
			<-ctx.Done()
			return probe.Result{Kind: probe.KindPing, Err: ctx.Err()}
		},
	}}
	f := newFixture(t, []identity.Identity{"HomeNet"}, exec, classify.Threshold{})

	o := f.loop.RunCycle(ctx)
	if !o.Abandoned || o.Recorded {
		t.Fatalf("expected abandoned cycle: %+v", o)
	}
	if st := f.loop.State(); st.Cycles != 0 || st.LastSampleAt != nil {
		t.Fatalf("abandoned cycle changed state: %+v", st)
	}
	if len(sampleLines(t, filepath.Join(f.dir, "HomeNet.log"))) != 0 {
		t.Fatalf("abandoned cycle wrote a sample")
	}
}

func TestUpdateAppliesNextCycle(t *testing.T) {
	exec := &scriptedPing{steps: []func(context.Context) probe.Result{rtt(80)}}
	f := newFixture(t, []identity.Identity{"HomeNet"}, exec, classify.Threshold{LatencyMs: 100})
	ctx := context.Background()

	if o := f.loop.RunCycle(ctx); o.Sample.Severity != classify.Normal {
		t.Fatalf("before update: %s", o.Sample.Severity)
	}
	f.loop.Update(Settings{Threshold: classify.Threshold{LatencyMs: 50}, Silent: true})
	if !f.loop.Silent() {
		t.Fatalf("silent not applied")
	}
	f.mock.Add(time.Second)
	if o := f.loop.RunCycle(ctx); o.Sample.Severity != classify.Degraded {
		t.Fatalf("after update: %s", o.Sample.Severity)
	}
}
