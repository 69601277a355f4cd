package statesink

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/agentbridge/internal/gateway"
)

func openTestStore(t *testing.T, keep int) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "state.db"), keep)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func snapshotAt(ts time.Time, task string) gateway.Snapshot {
	return gateway.Snapshot{
		Connected:   true,
		State:       gateway.StateConnected,
		CurrentTask: task,
		CapturedAt:  ts,
	}
}

func TestLatestBeforeAnyWrite(t *testing.T) {
	store := openTestStore(t, 10)
	_, ok, err := store.Latest()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteThenLatest(t *testing.T) {
	store := openTestStore(t, 10)
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	store.Write(snapshotAt(ts, "building"))

	snap, ok, err := store.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, snap.Connected)
	assert.Equal(t, "building", snap.CurrentTask)
	assert.True(t, snap.CapturedAt.Equal(ts))
}

func TestLatestIsReplacedInPlace(t *testing.T) {
	store := openTestStore(t, 0)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	store.Write(snapshotAt(base, "first"))
	store.Write(snapshotAt(base.Add(time.Second), "second"))

	snap, ok, err := store.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", snap.CurrentTask, "only the newest snapshot survives")
}

func TestHistoryIsTrimmed(t *testing.T) {
	store := openTestStore(t, 5)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Enough writes to pass several trim checkpoints.
	for i := 0; i < 128; i++ {
		store.Write(snapshotAt(base.Add(time.Duration(i)*time.Second), "tick"))
	}

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM snapshot_history`).Scan(&count))
	assert.LessOrEqual(t, count, 5+32, "history stays near the configured bound")
	assert.Greater(t, count, 0)
}
