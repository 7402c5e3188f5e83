// Package app builds the monitor from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"netwatch/internal/config"
	"netwatch/internal/console"
	"netwatch/internal/identity"
	"netwatch/internal/monitor"
	"netwatch/internal/observability"
	"netwatch/internal/probe"
	"netwatch/internal/runtime/supervisor"
	"netwatch/internal/session"
	"netwatch/internal/storage"
	logx "netwatch/pkg/logx"
	"netwatch/pkg/speedtest"
)

// Options configure New. Identity, Executor and Clock replace the
// configured collaborators when set.
type Options struct {
	// Mode is "ping" or "speed"; it overrides the config file.
	Mode       string
	ConfigPath string
	Overrides  Overrides

	Stdout io.Writer

	Identity identity.Provider
	Executor probe.Executor
	Clock    clock.Clock
}

type App struct {
	cfgm  *config.ConfigManager // nil without a config file
	cfg   *config.Config
	res   *config.Resolved
	runID string
	clk   clock.Clock

	logs *logx.Service
	log  logx.Logger

	echo    *console.Echo
	loop    *monitor.Loop
	store   storage.Store
	metrics *observability.Metrics
	debug   *observability.DebugServer
	sd      *sdNotifier
	sup     *supervisor.Supervisor
}

// New loads and validates the configuration and builds every component.
// Configuration problems are returned as *config.FatalConfigError.
func New(opts Options) (*App, error) {
	cfg, cfgm, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(loggingConfig(cfg))
	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		res:     res,
		runID:   uuid.NewString(),
		clk:     opts.Clock,
		logs:    logs,
		log:     log.With(logx.String("comp", "app")),
		metrics: observability.NewMetrics(),
	}
	if a.clk == nil {
		a.clk = clock.New()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = logx.Stdout()
	}
	a.echo = console.New(stdout, a.silent)
	a.sd = newSdNotifier(log)

	ident := opts.Identity
	if ident == nil {
		src, err := identity.OpenSource(identityConfig(cfg))
		if err != nil {
			return nil, config.FatalError(fmt.Errorf("identity: %w", err))
		}
		ident = identity.NewResolver(src, res.IdentityTimeout, log)
	}

	pc, err := probeConfig(cfg, res)
	if err != nil {
		return nil, config.FatalError(err)
	}
	exec := opts.Executor
	if exec == nil {
		exec, err = probe.Open(pc, speedtest.WithSpawner(speedtest.SpawnerFunc(a.spawn)))
		if err != nil {
			return nil, config.FatalError(err)
		}
	}

	router := session.NewRouter(session.Options{
		Dir:   cfg.LogDir,
		Kind:  pc.Kind,
		RunID: a.runID,
		Echo:  a.echo.Line,
	})

	hooks := []monitor.Hooks{a.metrics, a.sd}
	if sc, ok := storageConfig(cfg, res); ok {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		hooks = append(hooks, newMirror(st, a.runID, log, a.metrics.StorageFailed))
		a.log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a.loop, err = monitor.New(monitor.Options{
		Identity:     ident,
		Executor:     exec,
		Router:       router,
		Schedule:     res.Schedule,
		ProbeTimeout: res.ProbeTimeout,
		Settings:     settings(cfg, res, a.clk.Now()),
		Clock:        a.clk,
		Log:          log,
		Hooks:        hooks,
	})
	if err != nil {
		a.closeStore()
		return nil, err
	}

	a.debug = observability.NewDebugServer(debugConfig(cfg, res), a.metrics.Handler(), log)
	a.debug.SetHealth(a.health)
	return a, nil
}

func loadConfig(opts Options) (*config.Config, *config.ConfigManager, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if strings.TrimSpace(opts.ConfigPath) == "" {
		cfg := config.Default(mode)
		opts.Overrides.apply(cfg)
		config.ApplyDefaults(cfg)
		return cfg, nil, nil
	}
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfgm.SetPrepare(func(c *config.Config) {
		if mode != "" {
			c.Mode = mode
		}
		opts.Overrides.apply(c)
	})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfgm, nil
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) RunID() string          { return a.runID }
func (a *App) Loop() *monitor.Loop    { return a.loop }

func (a *App) silent() bool {
	if a.loop == nil {
		return a.cfg.Silent
	}
	return a.loop.Silent()
}

// spawn runs speedtest goroutines under the app supervisor when it exists.
func (a *App) spawn(name string, fn func()) {
	if sup := a.sup; sup != nil {
		sup.Go("speedtest."+name, func(context.Context) error {
			fn()
			return nil
		})
		return
	}
	go fn()
}

type health struct {
	RunID        string              `json:"run_id"`
	Mode         string              `json:"mode"`
	Interval     string              `json:"interval"`
	Network      string              `json:"network"`
	Cycles       uint64              `json:"cycles"`
	Lost         uint64              `json:"lost"`
	LastSampleAt *time.Time          `json:"last_sample_at,omitempty"`
	Supervisor   supervisor.Snapshot `json:"supervisor"`
}

func (a *App) health() any {
	st := a.loop.State()
	h := health{
		RunID:        a.runID,
		Mode:         a.cfg.Mode,
		Interval:     a.res.Schedule.String(),
		Network:      st.CurrentIdentity.String(),
		Cycles:       st.Cycles,
		Lost:         st.Lost,
		LastSampleAt: st.LastSampleAt,
	}
	if sup := a.sup; sup != nil {
		h.Supervisor = sup.Snapshot()
	}
	return h
}

// RunOnce performs a single cycle and releases every resource.
func (a *App) RunOnce(ctx context.Context) (monitor.Outcome, error) {
	a.echo.Banner(a.res.Schedule.String(), a.cfg.Silent)
	out := a.loop.RunCycle(ctx)
	a.loop.Close()
	a.closeStore()
	_ = a.logs.Close()
	if !out.Recorded && out.Err != nil {
		return out, out.Err
	}
	return out, nil
}

// Run starts the loop, the config watcher, the debug server and the systemd
// watchdog, and blocks until ctx is cancelled or the loop stops.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.echo.Banner(a.res.Schedule.String(), a.cfg.Silent)
	a.log.Info("monitor starting",
		logx.String("mode", a.cfg.Mode),
		logx.String("interval", a.res.Schedule.String()),
		logx.String("log_dir", a.cfg.LogDir),
		logx.String("run_id", a.runID),
	)

	a.sup.Go("monitor.loop", func(c context.Context) error {
		defer a.sup.Cancel()
		return a.loop.Run(c)
	})
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log)
		sub := a.cfgm.Subscribe(4)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
			return nil
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}
	a.debug.Start(runCtx)
	a.sup.Go("systemd.watchdog", a.sd.Watchdog)
	a.sd.Ready()

	<-runCtx.Done()
	return a.stop()
}

func (a *App) stop() error {
	a.sd.Stopping()
	a.log.Info("stopping")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.sup.Cancel()
	a.debug.Stop(ctx)
	err := a.sup.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("goroutines still running at shutdown", logx.Any("supervisor", a.sup.Snapshot()))
	}
	a.closeStore()

	st := a.loop.State()
	a.log.Info("stopped", logx.Uint64("cycles", st.Cycles), logx.Uint64("lost", st.Lost))
	_ = a.logs.Close()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing storage failed", logx.Err(err))
	}
	a.store = nil
}

// reloadLoop applies published configs: logging, thresholds, silent mode,
// interval and the debug server change live; the rest needs a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfg
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			next = c
		}
		// Coalesce bursts.
	drain:
		for {
			select {
			case c := <-sub:
				if c != nil {
					next = c
				}
			default:
				break drain
			}
		}
		a.applyConfig(ctx, last, next)
		last = next
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed, fields, restart := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	res, err := config.Resolve(next)
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return
	}

	a.logs.Apply(loggingConfig(next))
	a.loop.SetSchedule(res.Schedule)
	a.loop.Update(settings(next, res, a.clk.Now()))
	a.debug.Reconfigure(ctx, debugConfig(next, res))

	fields = append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
	if restart {
		a.log.Warn("probe, identity, log dir or storage settings changed; restart required for them to take effect")
	}
}
