// Package ledger records every trial outcome in PostgreSQL so long runs can
// be queried while they are still going.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/signalnine/perffect/internal/result"
)

const schema = `
CREATE TABLE IF NOT EXISTS perffect_trials (
	id           BIGSERIAL PRIMARY KEY,
	run_id       TEXT NOT NULL,
	seed         BIGINT NOT NULL,
	status       TEXT NOT NULL,
	phase        TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	repeat_count BIGINT NOT NULL DEFAULT 0,
	reference_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	candidate_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	ratio        DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS perffect_trials_run_idx ON perffect_trials (run_id);
`

type Ledger struct {
	db *sql.DB

	mu          sync.Mutex
	schemaReady bool
}

// Open connects to dsn and checks the connection within pingTimeout.
func Open(ctx context.Context, dsn string, pingTimeout time.Duration) (*Ledger, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("ledger dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// ensureSchema creates the table on first use. Only success is
// remembered, so a database that was briefly unavailable is retried.
func (l *Ledger) ensureSchema(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.schemaReady {
		return nil
	}
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	l.schemaReady = true
	return nil
}

func (l *Ledger) Record(ctx context.Context, rec *result.TrialRecord) error {
	if err := l.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO perffect_trials
	(run_id, seed, status, phase, error, repeat_count, reference_ms, candidate_ms, ratio, duration_ms, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.RunID, rec.Seed, rec.Status, rec.Phase, rec.Error, rec.RepeatCount,
		rec.ReferenceMs, rec.CandidateMs, rec.Ratio, rec.DurationMs, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("recording seed %d: %w", rec.Seed, err)
	}
	return nil
}

// StatusCounts returns how many trials of runID ended in each status.
func (l *Ledger) StatusCounts(ctx context.Context, runID string) (map[string]int, error) {
	if err := l.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM perffect_trials WHERE run_id = $1 GROUP BY status`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
