// Package monitor implements the real-time monitor: two independently
// scheduled, self-cancelling polling loops that keep the session model
// current while a sync job is active. The fast tick re-derives display
// fields locally; the slow tick fetches the authoritative remote status and
// overwrites local estimates.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mailvault/sync-monitor/internal/eventlog"
	"github.com/mailvault/sync-monitor/internal/remote"
	"github.com/mailvault/sync-monitor/internal/session"
	"github.com/mailvault/sync-monitor/internal/telemetry"
)

const (
	// DefaultFastInterval is the local-estimate recomputation cadence
	DefaultFastInterval = 2 * time.Second

	// DefaultSlowInterval is the authoritative remote fetch cadence
	DefaultSlowInterval = 4 * time.Second

	// idleGracePolls is how many consecutive "no active job" observations
	// the slow tick absorbs before concluding the job finished. This covers
	// the propagation delay between a just-issued start and the status
	// endpoint reflecting it; once the job has been seen active, a single
	// idle observation is conclusive.
	idleGracePolls = 2
)

// Monitor keeps the session model current while a job runs. Start is
// idempotent while running; Stop cancels both loops and waits for them.
// Re-entering a view maps to Start after Stop: the first authoritative poll
// happens immediately rather than waiting for the next tick.
type Monitor interface {
	Start(ctx context.Context)
	Stop()
}

// defaultMonitor is the default implementation of Monitor
type defaultMonitor struct {
	store    *session.Store
	client   remote.Client
	log      *eventlog.Log
	notifier *eventlog.Notifier
	metrics  *telemetry.MonitorMetrics

	fastInterval time.Duration
	slowInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// slow-loop state, touched only from the slow loop
	sawActive  bool
	idleStreak int
}

// Option is a function that configures the monitor
type Option func(*defaultMonitor)

// WithFastInterval overrides the fast tick cadence
func WithFastInterval(d time.Duration) Option {
	return func(m *defaultMonitor) {
		if d > 0 {
			m.fastInterval = d
		}
	}
}

// WithSlowInterval overrides the slow tick cadence
func WithSlowInterval(d time.Duration) Option {
	return func(m *defaultMonitor) {
		if d > 0 {
			m.slowInterval = d
		}
	}
}

// WithNotifier sets the notification sink for terminal and stall events
func WithNotifier(n *eventlog.Notifier) Option {
	return func(m *defaultMonitor) {
		m.notifier = n
	}
}

// WithMetrics sets the poll metrics
func WithMetrics(metrics *telemetry.MonitorMetrics) Option {
	return func(m *defaultMonitor) {
		m.metrics = metrics
	}
}

// New creates a monitor over the given session store and remote client
func New(store *session.Store, client remote.Client, log *eventlog.Log, opts ...Option) Monitor {
	m := &defaultMonitor{
		store:        store,
		client:       client,
		log:          log,
		fastInterval: DefaultFastInterval,
		slowInterval: DefaultSlowInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins both polling loops. It is a no-op if the monitor is already
// running. The first authoritative poll happens immediately.
func (m *defaultMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}

	monCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.sawActive = false
	m.idleStreak = 0
	done := m.done
	m.mu.Unlock()

	go func() {
		m.run(monCtx, cancel)

		// A run that self-cancelled on a terminal or stale status must
		// release the handles, or a later Start would treat the monitor as
		// still running. Stop clears them itself before waiting, so only
		// clear when they still belong to this run.
		m.mu.Lock()
		if m.done == done {
			m.cancel = nil
			m.done = nil
		}
		m.mu.Unlock()
		close(done)
	}()
}

// Stop cancels both loops and waits for them to finish. Cancellation is
// cooperative: an in-flight poll from a previous firing may still complete,
// but its result is discarded because the session is no longer running.
func (m *defaultMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *defaultMonitor) run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	// Immediate authoritative poll so a re-entered view never shows a stale
	// display while waiting for the first tick
	if !m.slowTick(ctx) {
		return
	}

	g, loopCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.fastLoop(loopCtx, cancel)
	})
	g.Go(func() error {
		return m.slowLoop(loopCtx, cancel)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Monitor loop exited with error", "error", err)
	}
}

// fastLoop recomputes locally-derivable display fields between
// authoritative updates. No network calls.
func (m *defaultMonitor) fastLoop(ctx context.Context, cancel context.CancelFunc) error {
	ticker := time.NewTicker(m.fastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// ApplyLocalEstimate is a no-op once the session stopped
			// running; a tick that fires after cancellation was requested
			// cannot corrupt the session.
			if !m.store.ApplyLocalEstimate() {
				cancel()
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// slowLoop fetches the authoritative remote status on each tick
func (m *defaultMonitor) slowLoop(ctx context.Context, cancel context.CancelFunc) error {
	ticker := time.NewTicker(m.slowInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !m.slowTick(ctx) {
				cancel()
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// slowTick performs one authoritative status poll. It returns false when
// the session reached a terminal state and the loops should stop.
func (m *defaultMonitor) slowTick(ctx context.Context) bool {
	// Re-check before and after the network call: a tick may fire after a
	// stop was requested but before the timer was cleared.
	if !m.store.Running() {
		return false
	}

	start := time.Now()
	status, _, err := m.client.MonitoringStatus(ctx)
	m.metrics.RecordPoll(ctx, time.Since(start), err == nil)

	if err != nil {
		// Read-path errors are absorbed and retried by the next tick,
		// never escalated individually
		slog.Warn("Status poll failed; retrying on next tick", "error", err)
		m.log.Warn(fmt.Sprintf("status poll failed: %v", err))
		return m.store.Running()
	}

	return m.apply(ctx, &status.SyncProgress)
}

// apply reconciles one authoritative snapshot into the session
func (m *defaultMonitor) apply(ctx context.Context, prog *remote.SyncProgress) bool {
	switch {
	case prog.Status == remote.StatusError:
		m.finalize(session.OutcomeFailed, prog.LastError)
		return false

	case prog.Status == remote.StatusCompleted:
		m.finalize(session.OutcomeCompleted, "")
		return false

	case prog.Status == remote.StatusStale:
		m.markStale(ctx, prog)
		return false

	case prog.IsActive:
		m.sawActive = true
		m.idleStreak = 0
		return m.store.ApplyRemote(remoteUpdate(prog, m.store))

	default:
		// Server reports no active job while we believe one is running.
		// Right after a start this can be propagation delay, so absorb a
		// bounded number of idle observations before concluding the job
		// finished.
		m.idleStreak++
		if m.sawActive || m.idleStreak >= idleGracePolls {
			m.finalize(session.OutcomeCompleted, "")
			return false
		}
		return true
	}
}

func (m *defaultMonitor) finalize(outcome session.Outcome, lastError string) {
	snapshot, err := m.store.Finalize(outcome, lastError)
	if err != nil {
		return
	}

	switch outcome {
	case session.OutcomeCompleted:
		m.log.Info(fmt.Sprintf("Sync Completed: %d emails synced", snapshot.EmailsSynced))
		m.notify(eventlog.SeverityInfo, fmt.Sprintf("Sync completed: %d emails synced", snapshot.EmailsSynced))
	case session.OutcomeFailed:
		m.log.Error(fmt.Sprintf("Sync failed: %s", snapshot.LastError))
		m.notify(eventlog.SeverityError, fmt.Sprintf("Sync failed: %s", snapshot.LastError))
	default:
		m.log.Info(fmt.Sprintf("Sync finished: %s", outcome))
	}

	slog.Info("Sync session finished",
		"session_id", snapshot.ID,
		"outcome", outcome,
		"emails_synced", snapshot.EmailsSynced)
}

// markStale handles the server-side stall heuristic: speed forced to zero,
// projection replaced by the stalled marker, session no longer running, and
// the user shown the stall reason plus a resume offer when available.
func (m *defaultMonitor) markStale(ctx context.Context, prog *remote.SyncProgress) {
	reason := prog.LastError
	if reason == "" {
		reason = "no forward progress reported by server"
	}

	snapshot, err := m.store.MarkStale(reason)
	if err != nil {
		return
	}

	m.log.Warn(fmt.Sprintf("Sync stalled: %s", reason))
	m.notify(eventlog.SeverityWarn, fmt.Sprintf("Sync stalled: %s", reason))
	slog.Warn("Sync session stale", "session_id", snapshot.ID, "reason", reason)

	// Best-effort resume offer; failures here must not affect session state
	info, err := m.client.ResumeInfo(ctx)
	if err != nil {
		m.log.Warn(fmt.Sprintf("resume info unavailable: %v", err))
		return
	}
	if info.CanResume {
		m.log.Info(fmt.Sprintf("Resume available: %s", info.ResumeReason))
		m.notify(eventlog.SeverityInfo, "Stalled sync can be resumed")
	}
}

func (m *defaultMonitor) notify(severity eventlog.Severity, message string) {
	if m.notifier != nil {
		m.notifier.Notify(severity, message)
	}
}

// remoteUpdate converts an authoritative snapshot into a session update.
// Elapsed time is re-derived from the session start time because the remote
// elapsed field is a display string.
func remoteUpdate(prog *remote.SyncProgress, store *session.Store) session.RemoteUpdate {
	update := session.RemoteUpdate{
		EmailsSynced:    prog.Synced(),
		ErrorCount:      prog.ErrorCount,
		BatchCount:      prog.CurrentBatch,
		ProgressPercent: prog.ProgressPercentage,
		EmailsPerMinute: prog.EmailsPerMinute,
		LastError:       prog.LastError,
	}

	if snapshot, ok := store.Snapshot(); ok {
		if remoteStart, hasStart := prog.StartedAt(); hasStart {
			update.Elapsed = time.Since(remoteStart)
		} else {
			update.Elapsed = time.Since(snapshot.StartTime)
		}
	}

	if prog.EstimatedCompletion != "" {
		if eta, err := time.Parse(time.RFC3339, prog.EstimatedCompletion); err == nil {
			update.EstimatedCompletion = &eta
		}
	}

	return update
}
