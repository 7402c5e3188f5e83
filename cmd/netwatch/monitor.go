package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"netwatch/internal/app"
)

type monitorFlags struct {
	configPath string
	once       bool

	interval       string
	address        string
	logDir         string
	probeTimeout   string
	identitySource string
	staticIdentity string
	logLevel       string
	thresholdMs    float64
	minDownload    float64
	silent         bool
}

func newMonitorCmd(mode, short, defInterval string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   mode,
		Short: short,
		Args:  cobra.NoArgs,
	}
	f := bindMonitorFlags(cmd.Flags(), mode, defInterval)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runMonitor(cmd, mode, f)
	}
	return cmd
}

func bindMonitorFlags(fs *pflag.FlagSet, mode, defInterval string) *monitorFlags {
	f := &monitorFlags{}
	fs.StringVar(&f.configPath, "config", "", "config file (JSON or YAML)")
	fs.BoolVar(&f.once, "once", false, "run a single cycle and exit")
	fs.StringVar(&f.interval, "interval", defInterval, "interval: integer in the mode's unit, Go duration, HH:MM or cron spec")
	fs.StringVar(&f.logDir, "log-dir", ".", "directory for per-network log files")
	fs.StringVar(&f.probeTimeout, "probe-timeout", "", "upper bound for one probe (Go duration)")
	fs.StringVar(&f.identitySource, "identity-source", "auto", "auto, networksetup, unredactor, networkmanager or static")
	fs.StringVar(&f.staticIdentity, "static-identity", "", "fixed network name (implies --identity-source static)")
	fs.StringVar(&f.logLevel, "log-level", "info", "operational log level")
	fs.Float64Var(&f.thresholdMs, "threshold-ms", 0, "latency above which a sample is degraded (0 disables)")
	fs.BoolVar(&f.silent, "silent", false, "do not echo samples to stdout")
	if mode == "ping" {
		fs.StringVar(&f.address, "address", "", "host to ping")
	} else {
		fs.Float64Var(&f.minDownload, "min-download", 0, "download rate in Mbps below which a sample is degraded")
	}
	return f
}

// overrides returns the flags the user actually set, so that they win over
// the config file while unset flags keep its values.
func (f *monitorFlags) overrides(fs *pflag.FlagSet) app.Overrides {
	var o app.Overrides
	str := func(name string, v *string) *string {
		if fs.Changed(name) {
			return v
		}
		return nil
	}
	o.Interval = str("interval", &f.interval)
	o.Address = str("address", &f.address)
	o.LogDir = str("log-dir", &f.logDir)
	o.ProbeTimeout = str("probe-timeout", &f.probeTimeout)
	o.IdentitySource = str("identity-source", &f.identitySource)
	o.StaticIdentity = str("static-identity", &f.staticIdentity)
	o.LogLevel = str("log-level", &f.logLevel)
	if fs.Changed("threshold-ms") {
		o.ThresholdMs = &f.thresholdMs
	}
	if fs.Changed("min-download") {
		o.MinDownload = &f.minDownload
	}
	if fs.Changed("silent") {
		o.Silent = &f.silent
	}
	return o
}

func runMonitor(cmd *cobra.Command, mode string, f *monitorFlags) error {
	a, err := app.New(app.Options{
		Mode:       mode,
		ConfigPath: f.configPath,
		Overrides:  f.overrides(cmd.Flags()),
		Stdout:     cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if f.once {
		_, err := a.RunOnce(ctx)
		return err
	}
	return a.Run(ctx)
}
