// Package postgres persists the topic snapshot in a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// Config controls the Postgres connection pool used for snapshot rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store implements watcher.SnapshotStore with one row per (forum, position).
// Forums with an empty id list have no rows and therefore load as absent.
type Store struct {
	pool  pool
	table string
}

// New connects to Postgres and makes sure the snapshot table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "forum_snapshots"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the snapshot table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			forum_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			topic_id TEXT NOT NULL,
			PRIMARY KEY (forum_id, position)
		)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

// Load reads every row and rebuilds the snapshot in position order.
func (s *Store) Load(ctx context.Context) (watcher.Snapshot, error) {
	query := fmt.Sprintf(`SELECT forum_id, topic_id FROM %s ORDER BY forum_id, position`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	snap := watcher.Snapshot{}
	for rows.Next() {
		var forumID, topicID string
		if err := rows.Scan(&forumID, &topicID); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snap[forumID] = append(snap[forumID], topicID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return snap, nil
}

// Save replaces the table contents inside one transaction.
func (s *Store) Save(ctx context.Context, snapshot watcher.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("clear snapshot: %w", err)
	}

	forumIDs := make([]string, 0, len(snapshot))
	for forumID := range snapshot {
		forumIDs = append(forumIDs, forumID)
	}
	sort.Strings(forumIDs)

	insert := fmt.Sprintf(`
		INSERT INTO %s (forum_id, position, topic_id)
		SELECT $1, u.ord - 1, u.topic_id
		FROM unnest($2::text[]) WITH ORDINALITY AS u(topic_id, ord)`, s.table)
	for _, forumID := range forumIDs {
		ids := snapshot[forumID]
		if len(ids) == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, insert, forumID, ids); err != nil {
			rollback(ctx, tx)
			return fmt.Errorf("insert snapshot for forum %s: %w", forumID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(context.WithoutCancel(ctx))
}
