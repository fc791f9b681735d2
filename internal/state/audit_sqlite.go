package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500

	// auditTimeLayout is fixed width so created_at sorts as text.
	auditTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// AuditEntry is a persisted transition record.
type AuditEntry struct {
	// ID is the auto-incremented primary key.
	ID int64 `json:"id"`
	TransitionRecord
}

// SQLiteAuditLog persists transition records in the transition_log table.
//
// Rows outlive the in-memory history ring, giving an audit trail across
// restarts.
type SQLiteAuditLog struct {
	db *sql.DB
}

// NewSQLiteAuditLog creates an audit log on an open, migrated database.
func NewSQLiteAuditLog(db *sql.DB) *SQLiteAuditLog {
	return &SQLiteAuditLog{db: db}
}

// Record inserts one transition record.
func (l *SQLiteAuditLog) Record(ctx context.Context, rec TransitionRecord) error {
	if rec.To == "" {
		return fmt.Errorf("target state is required")
	}
	failed := rec.FailedConditions
	if failed == nil {
		failed = []string{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshalling failed conditions: %w", err)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO transition_log
		 (from_state, to_state, reason, accepted, forced, failed_conditions, rejection, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.From,
		rec.To,
		rec.Reason,
		boolToInt(rec.Accepted),
		boolToInt(rec.Forced),
		string(failedJSON),
		rec.Rejection,
		ts.UTC().Format(auditTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting transition log: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 500)
func (l *SQLiteAuditLog) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, from_state, to_state, reason, accepted, forced, failed_conditions, rejection, created_at
		 FROM transition_log
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transition log: %w", err)
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0, limit)
	for rows.Next() {
		var e AuditEntry
		var accepted, forced int
		var failedJSON, createdAt string

		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.Reason, &accepted, &forced, &failedJSON, &e.Rejection, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transition log: %w", err)
		}
		e.Accepted = accepted != 0
		e.Forced = forced != 0

		if err := json.Unmarshal([]byte(failedJSON), &e.FailedConditions); err != nil {
			return nil, fmt.Errorf("unmarshalling failed conditions: %w", err)
		}
		if e.Timestamp, err = time.Parse(auditTimeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transition log: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many were removed.
func (l *SQLiteAuditLog) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(auditTimeLayout)
	result, err := l.db.ExecContext(ctx, "DELETE FROM transition_log WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting transition log: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
