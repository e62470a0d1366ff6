package monitor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailvault/sync-monitor/internal/eventlog"
	"github.com/mailvault/sync-monitor/internal/monitor"
	"github.com/mailvault/sync-monitor/internal/remote"
	"github.com/mailvault/sync-monitor/internal/session"
)

// fakeClient serves scripted monitoring responses. Once the script is
// exhausted the last response repeats.
type fakeClient struct {
	mu         sync.Mutex
	responses  []fakeResponse
	calls      int
	resumeInfo *remote.ResumeInfo
}

type fakeResponse struct {
	status *remote.MonitoringStatus
	err    error
}

func (f *fakeClient) MonitoringStatus(_ context.Context) (*remote.MonitoringStatus, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	resp := f.responses[idx]
	return resp.status, "http://fake", resp.err
}

func (f *fakeClient) StartSync(context.Context, remote.StartRequest) (*remote.StartResponse, string, error) {
	return nil, "", errors.New("not scripted")
}

func (f *fakeClient) StopSync(context.Context) (*remote.StopResponse, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeClient) ResumeInfo(context.Context) (*remote.ResumeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumeInfo == nil {
		return &remote.ResumeInfo{}, nil
	}
	return f.resumeInfo, nil
}

func (f *fakeClient) ResumeSync(context.Context) (*remote.ResumeResponse, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeClient) statusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func activeStatus(synced int) *remote.MonitoringStatus {
	return &remote.MonitoringStatus{
		SyncProgress: remote.SyncProgress{
			IsActive:           true,
			Status:             remote.StatusActive,
			SyncType:           "quick",
			EmailsProcessed:    synced,
			ProgressPercentage: float64(synced),
			EmailsPerMinute:    12,
			CurrentBatch:       synced / 10,
		},
	}
}

func newMonitor(store *session.Store, client remote.Client, log *eventlog.Log, notifier *eventlog.Notifier) monitor.Monitor {
	return monitor.New(store, client, log,
		monitor.WithFastInterval(5*time.Millisecond),
		monitor.WithSlowInterval(10*time.Millisecond),
		monitor.WithNotifier(notifier),
	)
}

func TestMonitor_AuthoritativeSnapshotOverwritesLocal(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	_, err := store.Begin(session.TypeQuick, 100, "")
	require.NoError(t, err)

	// The local count is ahead of the server's truth
	require.True(t, store.ApplyRemote(session.RemoteUpdate{EmailsSynced: 50}))

	client := &fakeClient{responses: []fakeResponse{{status: activeStatus(42)}}}
	mon := newMonitor(store, client, eventlog.New(10), nil)

	mon.Start(context.Background())
	defer mon.Stop()

	require.Eventually(t, func() bool {
		snapshot, ok := store.Snapshot()
		return ok && snapshot.EmailsSynced == 42
	}, time.Second, 5*time.Millisecond, "remote truth should overwrite the local count")
}

func TestMonitor_TerminalStatusFinalizesAndStops(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	_, err := store.Begin(session.TypeQuick, 100, "")
	require.NoError(t, err)

	completed := &remote.MonitoringStatus{
		SyncProgress: remote.SyncProgress{
			IsActive: false,
			Status:   remote.StatusCompleted,
		},
	}
	client := &fakeClient{responses: []fakeResponse{
		{status: activeStatus(90)},
		{status: completed},
	}}

	log := eventlog.New(10)
	notifier := eventlog.NewNotifier(time.Minute)
	mon := newMonitor(store, client, log, notifier)

	mon.Start(context.Background())
	defer mon.Stop()

	require.Eventually(t, func() bool {
		snapshot, ok := store.Snapshot()
		return ok && !snapshot.Running
	}, time.Second, 5*time.Millisecond)

	snapshot, _ := store.Snapshot()
	assert.Equal(t, session.OutcomeCompleted, snapshot.Outcome)
	assert.Equal(t, 90, snapshot.EmailsSynced)

	// Exactly one completion entry even though ticks kept firing
	completions := 0
	for _, entry := range log.Entries() {
		if entry.Severity == eventlog.SeverityInfo && entry.Message == "Sync Completed: 90 emails synced" {
			completions++
		}
	}
	assert.Equal(t, 1, completions)

	// The loops stop polling once terminal
	calls := client.statusCalls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, client.statusCalls())
}

func TestMonitor_RemoteErrorFinalizesAsFailed(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	_, err := store.Begin(session.TypeFull, 0, "")
	require.NoError(t, err)

	failed := &remote.MonitoringStatus{
		SyncProgress: remote.SyncProgress{
			Status:    remote.StatusError,
			LastError: "mailbox quota exceeded",
		},
	}
	client := &fakeClient{responses: []fakeResponse{{status: failed}}}

	log := eventlog.New(10)
	mon := newMonitor(store, client, log, nil)
	mon.Start(context.Background())
	defer mon.Stop()

	require.Eventually(t, func() bool {
		snapshot, ok := store.Snapshot()
		return ok && snapshot.Outcome == session.OutcomeFailed
	}, time.Second, 5*time.Millisecond)

	snapshot, _ := store.Snapshot()
	assert.Equal(t, "mailbox quota exceeded", snapshot.LastError)
}

func TestMonitor_StaleStatusMarksSessionStale(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	_, err := store.Begin(session.TypeFull, 0, "")
	require.NoError(t, err)
	require.True(t, store.ApplyRemote(session.RemoteUpdate{EmailsSynced: 500, EmailsPerMinute: 20}))

	stale := &remote.MonitoringStatus{
		SyncProgress: remote.SyncProgress{
			IsActive:  true,
			Status:    remote.StatusStale,
			LastError: "no progress in 2h14m",
		},
	}
	client := &fakeClient{
		responses:  []fakeResponse{{status: stale}},
		resumeInfo: &remote.ResumeInfo{CanResume: true, ResumeReason: "interrupted during batch 7"},
	}

	log := eventlog.New(10)
	notifier := eventlog.NewNotifier(time.Minute)
	mon := newMonitor(store, client, log, notifier)
	mon.Start(context.Background())
	defer mon.Stop()

	require.Eventually(t, func() bool {
		snapshot, ok := store.Snapshot()
		return ok && snapshot.Outcome == session.OutcomeStale
	}, time.Second, 5*time.Millisecond)

	snapshot, _ := store.Snapshot()
	assert.False(t, snapshot.Running)
	assert.True(t, snapshot.Stalled)
	assert.Zero(t, snapshot.EmailsPerMinute)
	assert.Equal(t, "no progress in 2h14m", snapshot.LastError)

	// Progress made before the stall is preserved
	assert.Equal(t, 500, snapshot.EmailsSynced)

	// The user is offered a resume because the server says it can
	require.Eventually(t, func() bool {
		for _, n := range notifier.Active() {
			if n.Message == "Stalled sync can be resumed" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_PollErrorsAreAbsorbed(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	_, err := store.Begin(session.TypeQuick, 100, "")
	require.NoError(t, err)

	client := &fakeClient{responses: []fakeResponse{
		{err: errors.New("connection refused")},
		{status: activeStatus(7)},
	}}

	log := eventlog.New(10)
	mon := newMonitor(store, client, log, nil)
	mon.Start(context.Background())
	defer mon.Stop()

	// The failed poll is logged, the session stays running, and the next
	// tick recovers
	require.Eventually(t, func() bool {
		snapshot, ok := store.Snapshot()
		return ok && snapshot.EmailsSynced == 7
	}, time.Second, 5*time.Millisecond)

	assert.True(t, store.Running())

	found := false
	for _, entry := range log.Entries() {
		if entry.Severity == eventlog.SeverityWarn {
			found = true
		}
	}
	assert.True(t, found, "the absorbed poll error should land in the event log")
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	_, err := store.Begin(session.TypeQuick, 100, "")
	require.NoError(t, err)

	client := &fakeClient{responses: []fakeResponse{{status: activeStatus(1)}}}
	mon := newMonitor(store, client, eventlog.New(10), nil)

	mon.Start(context.Background())
	mon.Stop()
	mon.Stop()

	// Restart maps to re-entering the view; the first poll is immediate
	calls := client.statusCalls()
	mon.Start(context.Background())
	require.Eventually(t, func() bool {
		return client.statusCalls() > calls
	}, time.Second, 5*time.Millisecond)
	mon.Stop()
}

func TestMonitor_TicksAreNoOpsWithoutRunningSession(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	client := &fakeClient{responses: []fakeResponse{{status: activeStatus(1)}}}
	mon := newMonitor(store, client, eventlog.New(10), nil)

	// No session exists; the monitor gives up immediately without polling
	mon.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, client.statusCalls())
	mon.Stop()
}

func TestMonitor_RestartsAfterTerminalStatus(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	_, err := store.Begin(session.TypeQuick, 100, "")
	require.NoError(t, err)

	completed := &remote.MonitoringStatus{
		SyncProgress: remote.SyncProgress{IsActive: false, Status: remote.StatusCompleted},
	}
	client := &fakeClient{responses: []fakeResponse{
		{status: activeStatus(90)},
		{status: completed},
		{status: activeStatus(5)},
	}}

	mon := newMonitor(store, client, eventlog.New(10), nil)
	mon.Start(context.Background())

	// The first session runs to completion and the loops tear themselves
	// down without an explicit Stop
	require.Eventually(t, func() bool {
		snapshot, ok := store.Snapshot()
		return ok && !snapshot.Running
	}, time.Second, 5*time.Millisecond)

	_, err = store.Begin(session.TypeQuick, 100, "")
	require.NoError(t, err)
	defer mon.Stop()

	// The self-cancelled run releases its handles asynchronously, so keep
	// asking until the restart takes; Start is idempotent while running
	calls := client.statusCalls()
	require.Eventually(t, func() bool {
		mon.Start(context.Background())
		return client.statusCalls() > calls
	}, time.Second, 5*time.Millisecond, "the monitor must poll for the second session")

	require.Eventually(t, func() bool {
		snapshot, ok := store.Snapshot()
		return ok && snapshot.EmailsSynced == 5
	}, time.Second, 5*time.Millisecond)
	assert.True(t, store.Running())
}

func TestMonitor_RestartsAfterParentContextCancelled(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	_, err := store.Begin(session.TypeQuick, 100, "")
	require.NoError(t, err)

	client := &fakeClient{responses: []fakeResponse{{status: activeStatus(3)}}}
	mon := newMonitor(store, client, eventlog.New(10), nil)

	ctx, cancel := context.WithCancel(context.Background())
	mon.Start(ctx)

	require.Eventually(t, func() bool {
		return client.statusCalls() > 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	// Cancellation of the caller's context must not strand the monitor
	calls := client.statusCalls()
	require.Eventually(t, func() bool {
		mon.Start(context.Background())
		return client.statusCalls() > calls
	}, time.Second, 5*time.Millisecond, "the monitor must poll again after its previous context was cancelled")
	mon.Stop()
}

func TestMonitor_AbsorbsIdleAfterStartThenConcludes(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	_, err := store.Begin(session.TypeQuick, 100, "")
	require.NoError(t, err)

	idle := &remote.MonitoringStatus{
		SyncProgress: remote.SyncProgress{IsActive: false, Status: remote.StatusIdle},
	}
	client := &fakeClient{responses: []fakeResponse{{status: idle}}}

	mon := newMonitor(store, client, eventlog.New(10), nil)
	mon.Start(context.Background())
	defer mon.Stop()

	// The first idle observation is absorbed as propagation delay; the
	// second concludes the job finished
	require.Eventually(t, func() bool {
		snapshot, ok := store.Snapshot()
		return ok && !snapshot.Running
	}, time.Second, 5*time.Millisecond)

	snapshot, _ := store.Snapshot()
	assert.Equal(t, session.OutcomeCompleted, snapshot.Outcome)
	assert.GreaterOrEqual(t, client.statusCalls(), 2)
}
