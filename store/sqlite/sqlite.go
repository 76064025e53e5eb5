// Package sqlite implements a durable audit sink using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	openvia "github.com/openvia/openvia"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a SQLite Sink.
type Option func(*Sink)

// WithLogger sets a structured logger for the sink.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// WithCapacity overrides the retained entry cap.
func WithCapacity(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// Sink mirrors policy audit entries into a local SQLite file. It applies the
// same ring semantics as the in-memory log: at most capacity entries are
// retained and the oldest are evicted first.
type Sink struct {
	db       *sql.DB
	capacity int
	logger   *slog.Logger
}

var _ openvia.AuditSink = (*Sink)(nil)

// New creates a Sink at dbPath. A single shared connection serializes all
// writers, avoiding SQLITE_BUSY from concurrent evaluations.
func New(dbPath string, opts ...Option) *Sink {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Sink{db: db, capacity: openvia.MaxAudit, logger: openvia.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the audit table.
func (s *Sink) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
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

	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (timestamp, user_id, chat_id, tool, args, decision)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.UserID, entry.ChatID, entry.Tool, entry.Args, entry.Decision)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE seq <= (
			SELECT seq FROM audit_log ORDER BY seq DESC LIMIT 1 OFFSET ?
		)`, s.capacity)
	if err != nil {
		return fmt.Errorf("evict audit entries: %w", err)
	}

	s.logger.Debug("sqlite: audit appended",
		"tool", entry.Tool, "decision", entry.Decision, "took", time.Since(start))
	return nil
}

// Entries returns the retained entries in append order.
func (s *Sink) Entries(ctx context.Context) ([]openvia.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, user_id, chat_id, tool, args, decision
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

// Close releases the database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}
