package state

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupAuditDB creates an in-memory database with the transition_log schema.
func setupAuditDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE transition_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			accepted INTEGER NOT NULL CHECK (accepted IN (0, 1)),
			forced INTEGER NOT NULL DEFAULT 0 CHECK (forced IN (0, 1)),
			failed_conditions TEXT NOT NULL DEFAULT '[]',
			rejection TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		) STRICT;
	`)
	require.NoError(t, err)
	return db
}

func TestSQLiteAuditLog_RecordAndRecent(t *testing.T) {
	log := NewSQLiteAuditLog(setupAuditDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, log.Record(ctx, TransitionRecord{
		To: "INITIALIZING", Timestamp: base, Reason: ReasonInitialized, Accepted: true,
	}))
	require.NoError(t, log.Record(ctx, TransitionRecord{
		From: "READY", To: "RUNNING", Timestamp: base.Add(time.Second), Reason: "start",
		FailedConditions: []string{"hardware.connected"}, Rejection: RejectConditionsFailed,
	}))
	require.NoError(t, log.Record(ctx, TransitionRecord{
		From: "READY", To: "RUNNING", Timestamp: base.Add(2 * time.Second), Reason: "start",
		Accepted: true, Forced: true,
	}))

	entries, err := log.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.True(t, entries[0].Accepted)
	assert.True(t, entries[0].Forced)
	assert.Equal(t, []string{}, entries[0].FailedConditions)
	assert.Equal(t, base.Add(2*time.Second), entries[0].Timestamp)

	assert.False(t, entries[1].Accepted)
	assert.Equal(t, []string{"hardware.connected"}, entries[1].FailedConditions)
	assert.Equal(t, RejectConditionsFailed, entries[1].Rejection)

	assert.Equal(t, "", entries[2].From)
	assert.Equal(t, ReasonInitialized, entries[2].Reason)

	limited, err := log.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, entries[0].ID, limited[0].ID)
}

func TestSQLiteAuditLog_RecordRequiresTarget(t *testing.T) {
	log := NewSQLiteAuditLog(setupAuditDB(t))
	assert.Error(t, log.Record(context.Background(), TransitionRecord{From: "READY"}))
}

func TestSQLiteAuditLog_Prune(t *testing.T) {
	log := NewSQLiteAuditLog(setupAuditDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, log.Record(ctx, TransitionRecord{From: "A", To: "B", Timestamp: now.Add(-48 * time.Hour), Accepted: true}))
	require.NoError(t, log.Record(ctx, TransitionRecord{From: "B", To: "A", Timestamp: now, Accepted: true}))

	n, err := log.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := log.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].To)

	_, err = log.Prune(ctx, 0)
	assert.Error(t, err)
}
