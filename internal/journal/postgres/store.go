package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/endpointd/internal/journal"
)

var _ journal.Journal = (*Store)(nil)

// Store is the PostgreSQL completion journal. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Record implements [journal.Journal].
func (s *Store) Record(ctx context.Context, e journal.Entry) error {
	const q = `
		INSERT INTO recognition_completions
		    (channel_id, request_id, cause, text, elapsed_ns, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	completedAt := e.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		e.ChannelID,
		int64(e.RequestID),
		e.Cause,
		e.Text,
		e.Elapsed.Nanoseconds(),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("journal postgres: record: %w", err)
	}
	return nil
}

// Recent implements [journal.Journal].
func (s *Store) Recent(ctx context.Context, q journal.Query) ([]journal.Entry, error) {
	sql, args := buildQuery("", q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [journal.Journal] using PostgreSQL full-text search. The
// text is passed to plainto_tsquery, so no operator syntax is required.
func (s *Store) Search(ctx context.Context, text string, q journal.Query) ([]journal.Entry, error) {
	sql, args := buildQuery(text, q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: search: %w", err)
	}
	return collectEntries(rows)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// buildQuery renders the SELECT for q. A non-empty text adds a full-text
// condition.
func buildQuery(text string, q journal.Query) (string, []any) {
	var (
		args       []any
		conditions []string
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if text != "" {
		conditions = append(conditions,
			"to_tsvector('simple', text) @@ plainto_tsquery('simple', "+next(text)+")")
	}
	if q.ChannelID != "" {
		conditions = append(conditions, "channel_id = "+next(q.ChannelID))
	}
	if q.Cause != "" {
		conditions = append(conditions, "cause = "+next(q.Cause))
	}
	if !q.After.IsZero() {
		conditions = append(conditions, "completed_at > "+next(q.After))
	}

	sql := "SELECT channel_id, request_id, cause, text, elapsed_ns, completed_at\n" +
		"FROM   recognition_completions"
	if len(conditions) > 0 {
		sql += "\nWHERE  " + strings.Join(conditions, "\n  AND  ")
	}
	sql += "\nORDER  BY completed_at DESC, id DESC"
	if q.Limit > 0 {
		sql += "\nLIMIT " + next(q.Limit)
	}
	return sql, args
}

func collectEntries(rows pgx.Rows) ([]journal.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Entry, error) {
		var (
			e         journal.Entry
			requestID int64
			elapsedNS int64
		)
		if err := row.Scan(&e.ChannelID, &requestID, &e.Cause, &e.Text, &elapsedNS, &e.CompletedAt); err != nil {
			return journal.Entry{}, err
		}
		e.RequestID = uint32(requestID)
		e.Elapsed = time.Duration(elapsedNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal postgres: scan rows: %w", err)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return entries, nil
}
