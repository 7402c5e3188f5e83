package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestOverridesOnlyChangedFlags(t *testing.T) {
	fs := pflag.NewFlagSet("ping", pflag.ContinueOnError)
	f := bindMonitorFlags(fs, "ping", "1")
	if err := fs.Parse([]string{"--address", "1.1.1.1", "--silent", "--threshold-ms", "80"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	o := f.overrides(fs)
	if o.Address == nil || *o.Address != "1.1.1.1" {
		t.Fatalf("address=%v", o.Address)
	}
	if o.Silent == nil || !*o.Silent {
		t.Fatalf("silent=%v", o.Silent)
	}
	if o.ThresholdMs == nil || *o.ThresholdMs != 80 {
		t.Fatalf("threshold=%v", o.ThresholdMs)
	}
	if o.Interval != nil || o.LogDir != nil || o.LogLevel != nil || o.MinDownload != nil {
		t.Fatalf("unset flags leaked: %+v", o)
	}
}

func TestSpeedHasNoAddressFlag(t *testing.T) {
	fs := pflag.NewFlagSet("speed", pflag.ContinueOnError)
	bindMonitorFlags(fs, "speed", "5")
	if fs.Lookup("address") != nil {
		t.Fatalf("speed should not take --address")
	}
	if fl := fs.Lookup("interval"); fl == nil || fl.DefValue != "5" {
		t.Fatalf("interval flag=%+v", fl)
	}
}

func TestPingRequiresAddress(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"ping", "--once", "--address", "", "--log-dir", dir})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "address") {
		t.Fatalf("expected address error, got %v", err)
	}
	if m, _ := filepath.Glob(filepath.Join(dir, "*.log")); len(m) != 0 {
		t.Fatalf("no log should be written: %v", m)
	}
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "netwatch dev\n" {
		t.Fatalf("version=%q", got)
	}
}
