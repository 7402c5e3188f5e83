// Package console mirrors session log lines to the terminal.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"netwatch/internal/classify"
	"netwatch/internal/session"
)

// Echo writes every routed line to w unless silenced. Colors are only
// emitted when w is a terminal that supports them.
type Echo struct {
	mu     sync.Mutex
	w      io.Writer
	silent func() bool

	header   lipgloss.Style
	restart  lipgloss.Style
	degraded lipgloss.Style
	failed   lipgloss.Style
}

// New returns an Echo on w. silent is checked per line so hot-reloaded
// silent mode takes effect immediately; nil means never silent.
func New(w io.Writer, silent func() bool) *Echo {
	r := lipgloss.NewRenderer(w)
	return &Echo{
		w:        w,
		silent:   silent,
		header:   r.NewStyle().Bold(true),
		restart:  r.NewStyle().Faint(true),
		degraded: r.NewStyle().Foreground(lipgloss.Color("11")),
		failed:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
}

// Line has the session.EchoFunc signature.
func (e *Echo) Line(l session.Line) {
	if e.silent != nil && e.silent() {
		return
	}
	text := l.Text
	switch l.Kind {
	case session.LineHeader:
		text = e.header.Render(text)
	case session.LineRestart:
		text = e.restart.Render(text)
	case session.LineSample:
		switch l.Severity {
		case classify.Degraded:
			text = e.degraded.Render(text)
		case classify.Failed:
			text = e.failed.Render(text)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = io.WriteString(e.w, text+"\n")
}

// Banner prints the startup line. It is shown even in silent mode.
func (e *Echo) Banner(interval string, silent bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = fmt.Fprintf(e.w, "Interval: %s\tSilent Mode: %t\n", interval, silent)
}
