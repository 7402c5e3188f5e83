package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var pingLine = regexp.MustCompile(`(\d+) bytes from [^\s]+: icmp_seq=(\d+) ttl=(\d+) time=([\d.]+) ms`)

// ErrNoReply means ping ran but printed no echo reply.
var ErrNoReply = errors.New("no reply")

type commandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// ping exits non-zero when no reply arrives; the output is still parsed.
func combinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// SystemPing sends one echo request through the system ping binary.
type SystemPing struct {
	Address string
	run     commandFunc
}

func NewSystemPing(address string) *SystemPing {
	return &SystemPing{Address: strings.TrimSpace(address), run: combinedOutput}
}

func (p *SystemPing) Kind() Kind { return KindPing }

func (p *SystemPing) Probe(ctx context.Context) Result {
	start := time.Now()
	out, err := p.run(ctx, "ping", "-c", "1", p.Address)
	ping, perr := parsePingOutput(string(out), p.Address)
	if perr != nil {
		if err != nil {
			perr = fmt.Errorf("ping %s: %w", p.Address, lastLineError(out, err))
		} else {
			perr = fmt.Errorf("ping %s: %w", p.Address, perr)
		}
		return Result{Kind: KindPing, Err: perr, Duration: time.Since(start)}
	}
	return Result{Kind: KindPing, Ping: ping, Duration: time.Since(start)}
}

func parsePingOutput(out, target string) (Ping, error) {
	m := pingLine.FindStringSubmatch(out)
	if m == nil {
		return Ping{}, ErrNoReply
	}
	bytes, _ := strconv.Atoi(m[1])
	seq, _ := strconv.Atoi(m[2])
	ttl, _ := strconv.Atoi(m[3])
	rtt, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Ping{}, fmt.Errorf("parse rtt %q: %w", m[4], err)
	}
	return Ping{RoundTripMs: rtt, TTL: ttl, Bytes: bytes, Seq: seq, Target: target}, nil
}

// lastLineError prefers ping's own diagnostic over the bare exit status.
func lastLineError(out []byte, err error) error {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l == "" || strings.Contains(l, "packet loss") || strings.HasPrefix(l, "---") || strings.HasPrefix(l, "PING") {
			continue
		}
		return errors.New(l)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ErrNoReply
	}
	return err
}
