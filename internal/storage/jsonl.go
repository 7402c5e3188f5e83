package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	logx "netwatch/pkg/logx"
)

const jsonlSchemaVersion = 1

const (
	DefaultMaxRecords = 20000
	DefaultMaxAgeDays = 90
	DefaultMaxBytes   = 8 * 1024 * 1024
)

type jsonlRecord struct {
	V int `json:"v"`
	Record
}

// jsonlStore appends one JSON object per line. When the file exceeds
// maxBytes it is rewritten keeping the newest maxRecords within maxAge.
type jsonlStore struct {
	path       string
	maxRecords int
	maxAge     time.Duration
	maxBytes   int64
	log        logx.Logger
	now        func() time.Time

	mu sync.Mutex
	f  *os.File
}

func openJSONL(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for jsonl driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &jsonlStore{
		path:       path,
		maxRecords: cfg.MaxRecords,
		maxAge:     time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		maxBytes:   cfg.MaxBytes,
		log:        log,
		now:        time.Now,
	}
	if s.maxRecords <= 0 {
		s.maxRecords = DefaultMaxRecords
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxAgeDays * 24 * time.Hour
	}
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxBytes
	}
	if err := s.reopen(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *jsonlStore) reopen() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	s.f = f
	return nil
}

func (s *jsonlStore) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	b, err := json.Marshal(jsonlRecord{V: jsonlSchemaVersion, Record: r})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	if st, err := s.f.Stat(); err == nil && st.Size() > s.maxBytes {
		removed, err := s.compactLocked()
		if err != nil {
			s.log.Warn("jsonl compaction failed", logx.Err(err))
		} else {
			s.log.Debug("jsonl compacted", logx.Int("removed", removed))
		}
	}
	return nil
}

// scan calls fn for every decodable record, oldest first.
func (s *jsonlStore) scan(fn func(r jsonlRecord)) error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		fn(rec)
	}
	return sc.Err()
}

// ring keeps the last n items appended to it.
type ring[T any] struct {
	buf  []T
	next int
	full bool
}

func newRing[T any](n int) *ring[T] { return &ring[T]{buf: make([]T, 0, n)} }

func (r *ring[T]) push(v T) {
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, v)
		return
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	r.full = true
}

// items returns the kept values, oldest first.
func (r *ring[T]) items() []T {
	if !r.full {
		return r.buf
	}
	out := make([]T, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

func (s *jsonlStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := newRing[Record](n)
	if err := s.scan(func(rec jsonlRecord) { r.push(rec.Record) }); err != nil {
		return nil, err
	}
	out := r.items()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// compactLocked rewrites the file through a temp file and rename.
func (s *jsonlStore) compactLocked() (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	kept := newRing[jsonlRecord](s.maxRecords)
	total := 0
	if err := s.scan(func(rec jsonlRecord) {
		total++
		if rec.At.Before(cutoff) {
			return
		}
		kept.push(rec)
	}); err != nil {
		return 0, err
	}

	tmp := s.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open temp file: %w", err)
	}
	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)
	records := kept.items()
	for _, rec := range records {
		if rec.V == 0 {
			rec.V = jsonlSchemaVersion
		}
		if err := enc.Encode(rec); err != nil {
			continue
		}
	}
	if err := bw.Flush(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	_ = out.Sync()
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("close temp file: %w", err)
	}

	_ = s.f.Close()
	s.f = nil
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		if rerr := s.reopen(); rerr != nil {
			return 0, multierr.Append(err, rerr)
		}
		return 0, fmt.Errorf("replace %s: %w", s.path, err)
	}
	if err := s.reopen(); err != nil {
		return 0, err
	}
	return max(total-len(records), 0), nil
}

func (s *jsonlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
