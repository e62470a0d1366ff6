package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_BeginCreatesRunningSession(t *testing.T) {
	t.Parallel()

	store := NewStore()

	snapshot, err := store.Begin(TypeQuick, 50, "http://localhost:8000")
	require.NoError(t, err)

	assert.NotEmpty(t, snapshot.ID)
	assert.Equal(t, TypeQuick, snapshot.Type)
	assert.Equal(t, OriginStarted, snapshot.Origin)
	assert.Equal(t, 50, snapshot.TotalTarget)
	assert.Equal(t, "http://localhost:8000", snapshot.EndpointUsed)
	assert.True(t, snapshot.Running)
	assert.True(t, store.Running())
}

func TestStore_SingleRunningSessionInvariant(t *testing.T) {
	t.Parallel()

	store := NewStore()

	first, err := store.Begin(TypeQuick, 50, "")
	require.NoError(t, err)

	// A second begin while running reports the existing session
	second, err := store.Begin(TypeFull, 0, "")
	require.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, first.ID, second.ID)

	// Attach is refused the same way
	_, err = store.Attach(TypeBackground, time.Now(), 0, "")
	require.ErrorIs(t, err, ErrSessionActive)

	// After finalizing, a new session may begin
	_, err = store.Finalize(OutcomeCompleted, "")
	require.NoError(t, err)

	third, err := store.Begin(TypeFull, 0, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestStore_AttachUsesRemoteStartTime(t *testing.T) {
	t.Parallel()

	store := NewStore()
	remoteStart := time.Now().Add(-10 * time.Minute)

	snapshot, err := store.Attach(TypeBackground, remoteStart, 0, "")
	require.NoError(t, err)

	assert.Equal(t, OriginAttached, snapshot.Origin)
	assert.Equal(t, remoteStart, snapshot.StartTime)
}

func TestStore_AttachZeroStartTimeFallsBackToNow(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store := NewStore()
	store.now = func() time.Time { return now }

	snapshot, err := store.Attach(TypeBackground, time.Time{}, 0, "")
	require.NoError(t, err)
	assert.Equal(t, now, snapshot.StartTime)
}

func TestStore_RemoteOverwritesLocalEstimate(t *testing.T) {
	t.Parallel()

	store := NewStore()
	_, err := store.Begin(TypeQuick, 100, "")
	require.NoError(t, err)

	// Local estimate thinks 50 were synced
	require.True(t, store.ApplyRemote(RemoteUpdate{EmailsSynced: 50, ProgressPercent: 50}))

	// Authoritative snapshot reports 42; the lower value wins
	require.True(t, store.ApplyRemote(RemoteUpdate{EmailsSynced: 42, ProgressPercent: 42}))

	snapshot, ok := store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 42, snapshot.EmailsSynced)
	assert.Equal(t, 42.0, snapshot.ProgressPercent)
}

func TestStore_UpdatesAreNoOpsAfterFinalize(t *testing.T) {
	t.Parallel()

	store := NewStore()
	_, err := store.Begin(TypeQuick, 100, "")
	require.NoError(t, err)
	require.True(t, store.ApplyRemote(RemoteUpdate{EmailsSynced: 10}))

	_, err = store.Finalize(OutcomeStopped, "")
	require.NoError(t, err)

	// A late tick that fires after the stop must not change anything
	assert.False(t, store.ApplyRemote(RemoteUpdate{EmailsSynced: 99}))
	assert.False(t, store.ApplyLocalEstimate())

	snapshot, ok := store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 10, snapshot.EmailsSynced)
	assert.Equal(t, OutcomeStopped, snapshot.Outcome)
	assert.False(t, snapshot.Running)
}

func TestStore_ApplyLocalEstimateDerivesDisplayFields(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	current := start
	store := NewStore()
	store.now = func() time.Time { return current }

	_, err := store.Begin(TypeQuick, 200, "")
	require.NoError(t, err)
	require.True(t, store.ApplyRemote(RemoteUpdate{EmailsSynced: 100}))

	current = start.Add(2 * time.Minute)
	require.True(t, store.ApplyLocalEstimate())

	snapshot, ok := store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, snapshot.Elapsed)
	assert.InDelta(t, 50.0, snapshot.EmailsPerMinute, 0.01)
	assert.InDelta(t, 50.0, snapshot.ProgressPercent, 0.01)

	// 100 emails remain at 50/min, so completion projects 2 minutes out
	require.NotNil(t, snapshot.EstimatedCompletion)
	assert.Equal(t, current.Add(2*time.Minute), *snapshot.EstimatedCompletion)
}

func TestStore_ProgressCapsAtHundredPercent(t *testing.T) {
	t.Parallel()

	store := NewStore()
	_, err := store.Begin(TypeQuick, 50, "")
	require.NoError(t, err)
	require.True(t, store.ApplyRemote(RemoteUpdate{EmailsSynced: 75}))
	require.True(t, store.ApplyLocalEstimate())

	snapshot, _ := store.Snapshot()
	assert.Equal(t, 100.0, snapshot.ProgressPercent)
}

func TestStore_MarkStale(t *testing.T) {
	t.Parallel()

	store := NewStore()
	_, err := store.Begin(TypeFull, 0, "")
	require.NoError(t, err)
	require.True(t, store.ApplyRemote(RemoteUpdate{EmailsSynced: 10, EmailsPerMinute: 30}))

	snapshot, err := store.MarkStale("no progress for 2 hours")
	require.NoError(t, err)

	assert.False(t, snapshot.Running)
	assert.Equal(t, OutcomeStale, snapshot.Outcome)
	assert.True(t, snapshot.Stalled)
	assert.Zero(t, snapshot.EmailsPerMinute)
	assert.Nil(t, snapshot.EstimatedCompletion)
	assert.Equal(t, "no progress for 2 hours", snapshot.LastError)

	// Counters survive the stall so the user sees where it stopped
	assert.Equal(t, 10, snapshot.EmailsSynced)
}

func TestStore_FinalizeWithoutSession(t *testing.T) {
	t.Parallel()

	store := NewStore()

	_, err := store.Finalize(OutcomeCompleted, "")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = store.MarkStale("reason")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStore_SubscribersReceiveEveryTransition(t *testing.T) {
	t.Parallel()

	store := NewStore()

	var seen []Session
	store.Subscribe(func(s Session) {
		seen = append(seen, s)
	})

	_, err := store.Begin(TypeQuick, 10, "")
	require.NoError(t, err)
	require.True(t, store.ApplyRemote(RemoteUpdate{EmailsSynced: 5}))
	_, err = store.Finalize(OutcomeCompleted, "")
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.True(t, seen[0].Running)
	assert.Equal(t, 5, seen[1].EmailsSynced)
	assert.False(t, seen[2].Running)
	assert.Equal(t, OutcomeCompleted, seen[2].Outcome)
}
