// Package postgres provides Postgres-backed persistence for targets and
// match records.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andr-235/keywatch/internal/scanner"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store persists match records and target scheduling state. It satisfies both
// scanner.MatchSink and scanner.TargetStore.
type Store struct {
	pool dbPool
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies database connectivity, used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Persist inserts a match record. The unique key on (item, target, rule) makes
// retried inserts a no-op: created=false with a nil error.
func (s *Store) Persist(ctx context.Context, rec scanner.MatchRecord) (bool, error) {
	query := `
INSERT INTO match_records (
	item_id,
	target_id,
	rule_id,
	author_id,
	item_text,
	item_posted_at,
	matched_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (item_id, target_id, rule_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.ItemID,
		rec.TargetID,
		rec.RuleID,
		rec.AuthorID,
		rec.ItemText,
		rec.ItemPostedAt,
		rec.MatchedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert match record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListDue returns active targets whose poll interval has elapsed and that
// carry at least one active rule, rules included, ordered by target then rule
// ID.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]scanner.Target, error) {
	query := `
SELECT
	t.id,
	t.external_id,
	t.name,
	t.is_active,
	t.poll_interval_seconds,
	t.last_scanned_at,
	r.id,
	r.keyword,
	r.case_sensitive,
	r.whole_word,
	r.is_active
FROM targets t
JOIN target_rules tr ON tr.target_id = t.id
JOIN filter_rules r ON r.id = tr.rule_id
WHERE t.is_active
  AND r.is_active
  AND (
	t.last_scanned_at IS NULL
	OR t.last_scanned_at + make_interval(secs => t.poll_interval_seconds) <= $1
  )
ORDER BY t.id, r.id`

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list due targets: %w", err)
	}
	defer rows.Close()

	var targets []scanner.Target
	var current *scanner.Target
	for rows.Next() {
		var (
			t               scanner.Target
			r               scanner.FilterRule
			intervalSeconds int64
			lastScanned     *time.Time
		)
		err := rows.Scan(
			&t.ID,
			&t.ExternalID,
			&t.Name,
			&t.IsActive,
			&intervalSeconds,
			&lastScanned,
			&r.ID,
			&r.Keyword,
			&r.CaseSensitive,
			&r.WholeWord,
			&r.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("scan target row: %w", err)
		}
		t.PollInterval = time.Duration(intervalSeconds) * time.Second
		t.LastScannedAt = lastScanned

		if current == nil || current.ID != t.ID {
			targets = append(targets, t)
			current = &targets[len(targets)-1]
		}
		current.Rules = append(current.Rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate target rows: %w", err)
	}
	return targets, nil
}

// UpdateLastScanned records a successful scan completion time.
func (s *Store) UpdateLastScanned(ctx context.Context, targetID int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE targets SET last_scanned_at = $2 WHERE id = $1`,
		targetID, at,
	)
	if err != nil {
		return fmt.Errorf("update last scanned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("target %d not found", targetID)
	}
	return nil
}
