package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoogware/crawlspace/internal/events"
)

func newTestAuditLog(t *testing.T) *AuditLog {
	t.Helper()
	a, err := NewAuditLog(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func player(connID uint64, name string, at time.Time) events.PlayerPayload {
	return events.PlayerPayload{
		UUID:     "uuid-" + name,
		Name:     name,
		Remote:   "192.0.2.1:50000",
		ConnID:   connID,
		JoinedAt: at,
		At:       at,
	}
}

func TestAuditLog_JoinLeave(t *testing.T) {
	ctx := context.Background()
	a := newTestAuditLog(t)
	joined := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	require.NoError(t, a.RecordJoin(ctx, player(1, "alice", joined)))
	require.NoError(t, a.RecordJoin(ctx, player(2, "bob", joined)))

	leave := player(1, "alice", joined)
	leave.At = joined.Add(30 * time.Second)
	leave.Reason = "kicked"
	require.NoError(t, a.RecordLeave(ctx, leave))

	t.Run("unknown leave is ignored", func(t *testing.T) {
		assert.NoError(t, a.RecordLeave(ctx, player(99, "ghost", joined)))
	})

	records, err := a.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "bob", records[0].Name, "newest first")
	assert.Nil(t, records[0].LeftAt)

	alice := records[1]
	assert.Equal(t, uint64(1), alice.ConnID)
	assert.True(t, alice.JoinedAt.Equal(joined))
	require.NotNil(t, alice.LeftAt)
	assert.Equal(t, "kicked", alice.Reason)
	assert.Equal(t, 30*time.Second, alice.Duration())
}

func TestAuditLog_Prune(t *testing.T) {
	ctx := context.Background()
	a := newTestAuditLog(t)
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, a.RecordJoin(ctx, player(1, "old", old)))
	leave := player(1, "old", old)
	leave.At = old.Add(time.Minute)
	require.NoError(t, a.RecordLeave(ctx, leave))

	// Still open, so it survives however old it is.
	require.NoError(t, a.RecordJoin(ctx, player(2, "stayer", old)))
	require.NoError(t, a.RecordFailure(ctx, events.ConnectionErrorPayload{
		State: "login", Kind: "timeout", Error: "timed out",
	}, old))
	require.NoError(t, a.RecordFailure(ctx, events.ConnectionErrorPayload{
		State: "play", Kind: "frame", Error: "bad frame",
	}, time.Now()))

	removed, err := a.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	records, err := a.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "stayer", records[0].Name)

	failures, err := a.RecentFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "frame", failures[0].Kind)

	_, err = a.Prune(ctx, 0)
	assert.Error(t, err)
}

func TestAuditLog_ClosesStaleSessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	a, err := NewAuditLog(ctx, path)
	require.NoError(t, err)
	require.NoError(t, a.RecordJoin(ctx, player(1, "crashed", time.Now())))
	require.NoError(t, a.Close())

	a, err = NewAuditLog(ctx, path)
	require.NoError(t, err)
	defer a.Close()

	records, err := a.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].LeftAt)
	assert.Equal(t, ReasonUncleanShutdown, records[0].Reason)
}

func TestAuditLog_Attach(t *testing.T) {
	ctx := context.Background()
	a := newTestAuditLog(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	a.Attach(bus)

	now := time.Now()
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventPlayerJoined, Payload: player(7, "carol", now)}))
	left := player(7, "carol", now)
	left.Reason = "disconnected"
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventPlayerLeft, Payload: left}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventConnectionFail,
		Payload: events.ConnectionErrorPayload{State: "status", Kind: "schema", Error: "x"},
	}))

	records, err := a.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "disconnected", records[0].Reason)

	failures, err := a.RecentFailures(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, failures, 1)

	assert.Error(t, bus.EmitSync(ctx, events.Event{Type: events.EventPlayerJoined, Payload: "nope"}))
}
