package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	logx "netwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS samples (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL DEFAULT '',
	at            INTEGER NOT NULL,
	network       TEXT NOT NULL,
	kind          TEXT NOT NULL,
	severity      TEXT NOT NULL,
	delta         REAL NOT NULL DEFAULT 0,
	rtt_ms        REAL NOT NULL DEFAULT 0,
	ttl           INTEGER NOT NULL DEFAULT 0,
	download_mbps REAL NOT NULL DEFAULT 0,
	upload_mbps   REAL NOT NULL DEFAULT 0,
	ping_ms       REAL NOT NULL DEFAULT 0,
	packet_loss   REAL NOT NULL DEFAULT 0,
	label         TEXT,
	server        TEXT
);
CREATE INDEX IF NOT EXISTS samples_at ON samples(at);
CREATE INDEX IF NOT EXISTS samples_network_at ON samples(network, at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time

	maxRecords int
	maxAge     time.Duration

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; WAL lets readers run alongside it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{
		db:         db,
		log:        log,
		now:        time.Now,
		maxRecords: cfg.MaxRecords,
		maxAge:     time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		pruneEvery: 500,
	}
	if st.maxRecords <= 0 {
		st.maxRecords = DefaultMaxRecords
	}
	if st.maxAge <= 0 {
		st.maxAge = DefaultMaxAgeDays * 24 * time.Hour
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.At.IsZero() {
		r.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO samples(id, run_id, at, network, kind, severity, delta, rtt_ms, ttl,
		   download_mbps, upload_mbps, ping_ms, packet_loss, label, server)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.RunID, r.At.UnixNano(), r.Network, r.Kind, r.Severity, r.Delta, r.RoundTripMs, r.TTL,
		r.DownloadMbps, r.UploadMbps, r.PingMs, r.PacketLoss, nullStr(r.Label), nullStr(r.Server),
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if n, err := s.prune(pctx); err != nil {
			s.log.Debug("sqlite prune failed", logx.Err(err))
		} else if n > 0 {
			s.log.Debug("sqlite pruned", logx.Int64("rows", n))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, at, network, kind, severity, delta, rtt_ms, ttl,
		   download_mbps, upload_mbps, ping_ms, packet_loss, label, server
		 FROM samples ORDER BY at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r             Record
			at            int64
			label, server sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &at, &r.Network, &r.Kind, &r.Severity, &r.Delta, &r.RoundTripMs, &r.TTL,
			&r.DownloadMbps, &r.UploadMbps, &r.PingMs, &r.PacketLoss, &label, &server); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, at)
		r.Label = label.String
		r.Server = server.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// prune drops rows older than maxAge and anything beyond the newest
// maxRecords, and reports how many rows went.
func (s *sqliteStore) prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	aged, _ := res.RowsAffected()
	res, err = s.db.ExecContext(ctx,
		`DELETE FROM samples WHERE rowid NOT IN (SELECT rowid FROM samples ORDER BY at DESC LIMIT ?)`,
		s.maxRecords)
	if err != nil {
		return aged, err
	}
	over, _ := res.RowsAffected()
	return aged + over, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
