// Package postgres implements a durable audit sink using PostgreSQL.
//
// The Sink accepts an externally-owned *pgxpool.Pool via constructor
// injection; the caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	openvia "github.com/openvia/openvia"
)

// Option configures a postgres Sink.
type Option func(*Sink)

// WithCapacity overrides the retained entry cap.
func WithCapacity(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// Sink mirrors policy audit entries into PostgreSQL with the same ring
// semantics as the in-memory log.
type Sink struct {
	pool     *pgxpool.Pool
	capacity int
}

var _ openvia.AuditSink = (*Sink)(nil)

// New creates a Sink over an existing pool. The caller owns the pool.
func New(pool *pgxpool.Pool, opts ...Option) *Sink {
	s := &Sink{pool: pool, capacity: openvia.MaxAudit}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the audit table.
func (s *Sink) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGSERIAL PRIMARY KEY,
		ts BIGINT NOT NULL,
		user_id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		args TEXT NOT NULL,
		decision TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// Append stores one entry and evicts beyond the capacity.
func (s *Sink) Append(entry openvia.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (ts, user_id, chat_id, tool, args, decision)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Timestamp, entry.UserID, entry.ChatID, entry.Tool, entry.Args, entry.Decision)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM audit_log WHERE seq <= (
			SELECT seq FROM audit_log ORDER BY seq DESC OFFSET $1 LIMIT 1
		)`, s.capacity)
	if err != nil {
		return fmt.Errorf("evict audit entries: %w", err)
	}
	return nil
}

// Entries returns the retained entries in append order.
func (s *Sink) Entries(ctx context.Context) ([]openvia.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, user_id, chat_id, tool, args, decision
		 FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []openvia.AuditEntry
	for rows.Next() {
		var e openvia.AuditEntry
		if err := rows.Scan(&e.Timestamp, &e.UserID, &e.ChatID, &e.Tool, &e.Args, &e.Decision); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
