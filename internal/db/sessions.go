package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xoogware/crawlspace/internal/events"
)

// ReasonUncleanShutdown closes sessions a previous run left open.
const ReasonUncleanShutdown = "unclean shutdown"

// SessionRecord is one row of the audit trail.
type SessionRecord struct {
	ID       int64      `json:"id"`
	ConnID   uint64     `json:"conn_id"`
	UUID     string     `json:"uuid"`
	Name     string     `json:"name"`
	Remote   string     `json:"remote"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Duration is how long the session lasted, or has lasted so far.
func (r SessionRecord) Duration() time.Duration {
	if r.LeftAt == nil {
		return time.Since(r.JoinedAt)
	}
	return r.LeftAt.Sub(r.JoinedAt)
}

// FailureRecord is a connection that ended abnormally.
type FailureRecord struct {
	ID     int64     `json:"id"`
	Remote string    `json:"remote"`
	State  string    `json:"state"`
	Kind   string    `json:"kind"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

// AuditLog records session lifecycle events.
type AuditLog struct {
	db     *Database
	logger zerolog.Logger
}

// NewAuditLog opens the database at dbPath and migrates the schema. Sessions
// left open by a previous run are closed as unclean.
func NewAuditLog(ctx context.Context, dbPath string) (*AuditLog, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	a := &AuditLog{
		db:     database,
		logger: log.With().Str("component", "db").Logger(),
	}
	if err := a.migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}

	res, err := database.Exec(ctx,
		"UPDATE sessions SET left_at = ?, reason = ? WHERE left_at IS NULL",
		time.Now().UnixMilli(), ReasonUncleanShutdown)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		a.logger.Warn().Int64("sessions", n).Msg("closed sessions left open by a previous run")
	}
	return a, nil
}

func (a *AuditLog) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conn_id INTEGER NOT NULL,
			uuid TEXT NOT NULL,
			name TEXT NOT NULL,
			remote TEXT NOT NULL DEFAULT '',
			joined_at INTEGER NOT NULL,
			left_at INTEGER,
			reason TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS connection_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			remote TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			kind TEXT NOT NULL,
			error TEXT NOT NULL,
			at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_uuid ON sessions(uuid);
		CREATE INDEX IF NOT EXISTS idx_sessions_joined_at ON sessions(joined_at);
		CREATE INDEX IF NOT EXISTS idx_connection_errors_at ON connection_errors(at);
	`
	if _, err := a.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	a.logger.Debug().Msg("database schema migrated")
	return nil
}

// Attach subscribes the audit log to the event bus.
func (a *AuditLog) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventPlayerJoined, "audit", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.PlayerPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return a.RecordJoin(ctx, p)
	})
	bus.Subscribe(events.EventPlayerLeft, "audit", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.PlayerPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return a.RecordLeave(ctx, p)
	})
	bus.Subscribe(events.EventConnectionFail, "audit", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.ConnectionErrorPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return a.RecordFailure(ctx, p, time.Now())
	})
}

// RecordJoin inserts an open session row.
func (a *AuditLog) RecordJoin(ctx context.Context, p events.PlayerPayload) error {
	joined := p.JoinedAt
	if joined.IsZero() {
		joined = p.At
	}
	_, err := a.db.Exec(ctx,
		"INSERT INTO sessions (conn_id, uuid, name, remote, joined_at) VALUES (?, ?, ?, ?, ?)",
		int64(p.ConnID), p.UUID, p.Name, p.Remote, joined.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record join for %s: %w", p.Name, err)
	}
	return nil
}

// RecordLeave closes the newest open session for the player and connection.
// A leave with no matching join is ignored.
func (a *AuditLog) RecordLeave(ctx context.Context, p events.PlayerPayload) error {
	left := p.At
	if left.IsZero() {
		left = time.Now()
	}
	res, err := a.db.Exec(ctx, `
		UPDATE sessions SET left_at = ?, reason = ?
		WHERE id = (
			SELECT id FROM sessions
			WHERE uuid = ? AND conn_id = ? AND left_at IS NULL
			ORDER BY id DESC LIMIT 1
		)`,
		left.UnixMilli(), p.Reason, p.UUID, int64(p.ConnID))
	if err != nil {
		return fmt.Errorf("failed to record leave for %s: %w", p.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		a.logger.Debug().Str("uuid", p.UUID).Uint64("conn_id", p.ConnID).Msg("leave without open session")
	}
	return nil
}

// RecordFailure stores a connection that ended with a protocol error.
func (a *AuditLog) RecordFailure(ctx context.Context, p events.ConnectionErrorPayload, at time.Time) error {
	_, err := a.db.Exec(ctx,
		"INSERT INTO connection_errors (remote, state, kind, error, at) VALUES (?, ?, ?, ?, ?)",
		p.Remote, p.State, p.Kind, p.Error, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record connection error: %w", err)
	}
	return nil
}

// Recent returns the newest sessions first.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(ctx, `
		SELECT id, conn_id, uuid, name, remote, joined_at, left_at, reason
		FROM sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r        SessionRecord
			connID   int64
			joinedMS int64
			leftMS   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &connID, &r.UUID, &r.Name, &r.Remote, &joinedMS, &leftMS, &r.Reason); err != nil {
			return nil, err
		}
		r.ConnID = uint64(connID)
		r.JoinedAt = time.UnixMilli(joinedMS)
		if leftMS.Valid {
			t := time.UnixMilli(leftMS.Int64)
			r.LeftAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentFailures returns the newest connection errors first.
func (a *AuditLog) RecentFailures(ctx context.Context, limit int) ([]FailureRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(ctx,
		"SELECT id, remote, state, kind, error, at FROM connection_errors ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var (
			f  FailureRecord
			at int64
		)
		if err := rows.Scan(&f.ID, &f.Remote, &f.State, &f.Kind, &f.Error, &at); err != nil {
			return nil, err
		}
		f.At = time.UnixMilli(at)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Prune deletes closed sessions and connection errors older than the
// retention window. Open sessions are never pruned.
func (a *AuditLog) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("retention must be positive")
	}
	cutoff := time.Now().Add(-olderThan).UnixMilli()

	var removed int64
	err := a.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM sessions WHERE left_at IS NOT NULL AND left_at < ?", cutoff)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed += n

		res, err = tx.ExecContext(ctx, "DELETE FROM connection_errors WHERE at < ?", cutoff)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		removed += n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}

	a.logger.Info().Int64("rows", removed).Dur("retention", olderThan).Msg("audit log pruned")
	return removed, nil
}

// Close closes the underlying database.
func (a *AuditLog) Close() error {
	return a.db.Close()
}
