package session

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"netwatch/internal/classify"
	"netwatch/internal/identity"
	"netwatch/internal/probe"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"

	networkWidth = 16
	statusWidth  = 8
	ispWidth     = 16
)

// Header returns the column header written at the top of a new log file.
func Header(kind probe.Kind) string {
	if kind == probe.KindThroughput {
		return fmt.Sprintf("%-10s  %-8s  %-16s  %6s  %6s  %6s  %6s  %-8s  %-16s  %s",
			"Date", "Time", "Network", "Delay", "D/L", "U/L", "Ping", "Status", "ISP", "Test Server")
	}
	return fmt.Sprintf("%-10s  %-8s  %-16s  %6s  %7s  %4s  %-8s  %s",
		"Date", "Time", "Network", "Delta", "RTT", "TTL", "Status", "Target")
}

// FormatSample renders s as one log line (without the trailing newline).
func FormatSample(s classify.Sample) string {
	prefix := linePrefix(s.Timestamp, s.Identity)
	m := s.Measurements
	if s.Kind == probe.KindThroughput {
		line := fmt.Sprintf("%s  %6.2f  %6.2f  %6.2f  %6.2f  %s  %s  %s",
			prefix, s.Delta, m.DownloadMbps, m.UploadMbps, m.PingMs,
			column(string(s.Severity), statusWidth), column(s.Label, ispWidth), oneLine(s.Server))
		return strings.TrimRight(line, " ")
	}
	line := fmt.Sprintf("%s  %6.2f  %7.2f  %4d  %s  %s",
		prefix, s.Delta, m.RoundTripMs, m.TTL, column(string(s.Severity), statusWidth), oneLine(s.Label))
	return strings.TrimRight(line, " ")
}

// FormatRestart renders the marker written each time a log file is (re)opened.
func FormatRestart(at time.Time, id identity.Identity, runID string) string {
	line := linePrefix(at, id) + "  RESTART"
	if runID != "" {
		line += "  run=" + runID
	}
	return line
}

func linePrefix(at time.Time, id identity.Identity) string {
	return at.Format(dateLayout) + "  " + at.Format(timeLayout) + "  " + column(string(id), networkWidth)
}

// oneLine replaces control characters with spaces so free-text fields
// cannot split a record.
func oneLine(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}

// column left-justifies s in a field of w runes, truncating when longer.
func column(s string, w int) string {
	s = oneLine(s)
	if r := []rune(s); len(r) > w {
		s = string(r[:w])
	}
	return fmt.Sprintf("%-*s", w, s)
}
