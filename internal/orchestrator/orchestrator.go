// Package orchestrator implements the start coordinator: the guarded state
// machine that turns a user's start request into either a new session, an
// attachment to an already-running job, or a surfaced failure. The server is
// the final arbiter of concurrency; the pre-start checks only narrow the
// race window, they cannot close it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mailvault/sync-monitor/internal/eventlog"
	"github.com/mailvault/sync-monitor/internal/monitor"
	"github.com/mailvault/sync-monitor/internal/remote"
	"github.com/mailvault/sync-monitor/internal/session"
	"github.com/mailvault/sync-monitor/internal/telemetry"
)

const (
	// DefaultConfirmRetries is the number of confirmation checks after the
	// initial one, so the default start flow performs three checks total
	DefaultConfirmRetries = 2

	// DefaultConfirmDelay is the pause between confirmation checks
	DefaultConfirmDelay = time.Second
)

// State is the coordinator's externally visible phase
type State string

const (
	// StateIdle means no start flow is in progress
	StateIdle State = "idle"

	// StateChecking is the initial status probe
	StateChecking State = "checking"

	// StateConfirming covers the repeat probes that absorb propagation delay
	StateConfirming State = "confirming"

	// StateStarting means the start command has been issued
	StateStarting State = "starting"

	// StateAttached means the coordinator bound to an existing server job
	StateAttached State = "attached"

	// StateRunning means a job this client started is in flight
	StateRunning State = "running"

	// StateFailed means the last start attempt failed; a new start is allowed
	StateFailed State = "failed"
)

// StartOutcome reports how a successful start request concluded
type StartOutcome string

const (
	// OutcomeStarted means a new job was accepted by the server
	OutcomeStarted StartOutcome = "started"

	// OutcomeAttached means an existing job was adopted instead
	OutcomeAttached StartOutcome = "attached"

	// OutcomeCompleted means the server ran the job synchronously and it
	// finished within the start call itself
	OutcomeCompleted StartOutcome = "completed"
)

// StartParams carries the user-selected job parameters
type StartParams struct {
	// MaxEmails is the email ceiling for the job; zero means server default
	MaxEmails int

	// StartDate bounds a date-range sync, formatted YYYY-MM-DD
	StartDate string
}

// errNoActiveJob signals a probe that found the server idle; it only drives
// the confirmation retry loop and never escapes the coordinator
var errNoActiveJob = errors.New("no active job on server")

// ErrInvalidInput marks start parameters rejected before any server call.
// Callers can distinguish these from transport and server failures.
var ErrInvalidInput = errors.New("invalid sync parameters")

// Orchestrator drives sync job lifecycle transitions on behalf of the
// dashboard. All methods are safe for concurrent use; start flows are
// serialized so concurrent start requests converge on one session.
type Orchestrator interface {
	// StartSync runs the guarded start flow for the given sync type
	StartSync(ctx context.Context, typ session.Type, params StartParams) (StartOutcome, error)

	// StopSync asks the server to stop the running job and finalizes the
	// session on success
	StopSync(ctx context.Context) error

	// ResumeSync continues an abandoned job from its continuation point
	ResumeSync(ctx context.Context) error

	// CanResume reports whether the server holds resumable unfinished work
	CanResume(ctx context.Context) (bool, string, error)

	// State returns the coordinator's current phase
	State() State
}

// defaultOrchestrator is the default implementation of Orchestrator
type defaultOrchestrator struct {
	store    *session.Store
	client   remote.Client
	monitor  monitor.Monitor
	log      *eventlog.Log
	notifier *eventlog.Notifier
	metrics  *telemetry.SyncMetrics

	confirmRetries int
	confirmDelay   time.Duration

	// baseCtx bounds the monitor loops, which outlive any single request
	baseCtx context.Context

	// startMu serializes whole start/stop/resume flows
	startMu sync.Mutex

	stateMu sync.Mutex
	state   State
}

// Option is a function that configures the orchestrator
type Option func(*defaultOrchestrator)

// WithConfirmRetries sets how many confirmation checks follow the initial one
func WithConfirmRetries(n int) Option {
	return func(o *defaultOrchestrator) {
		if n >= 0 {
			o.confirmRetries = n
		}
	}
}

// WithConfirmDelay sets the pause between confirmation checks
func WithConfirmDelay(d time.Duration) Option {
	return func(o *defaultOrchestrator) {
		if d > 0 {
			o.confirmDelay = d
		}
	}
}

// WithNotifier sets the notification sink for lifecycle events
func WithNotifier(n *eventlog.Notifier) Option {
	return func(o *defaultOrchestrator) {
		o.notifier = n
	}
}

// WithMetrics sets the start-coordinator metrics
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(o *defaultOrchestrator) {
		o.metrics = metrics
	}
}

// WithBaseContext sets the context that bounds the monitor loops. Defaults
// to context.Background; the serve command passes its run context so the
// loops stop on shutdown.
func WithBaseContext(ctx context.Context) Option {
	return func(o *defaultOrchestrator) {
		if ctx != nil {
			o.baseCtx = ctx
		}
	}
}

// New creates an orchestrator over the given collaborators
func New(store *session.Store, client remote.Client, mon monitor.Monitor, log *eventlog.Log, opts ...Option) Orchestrator {
	o := &defaultOrchestrator{
		store:          store,
		client:         client,
		monitor:        mon,
		log:            log,
		confirmRetries: DefaultConfirmRetries,
		confirmDelay:   DefaultConfirmDelay,
		baseCtx:        context.Background(),
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the coordinator's current phase
func (o *defaultOrchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *defaultOrchestrator) setState(s State) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
}

// StartSync runs the guarded start flow: probe the server, re-probe to
// absorb propagation delay, re-verify immediately before starting, then
// issue the start. A server-side rejection for an already-running job
// converges to attach, never to failure.
func (o *defaultOrchestrator) StartSync(ctx context.Context, typ session.Type, params StartParams) (StartOutcome, error) {
	if !typ.Valid() {
		return "", fmt.Errorf("%w: unknown sync type %q", ErrInvalidInput, typ)
	}
	if params.MaxEmails < 0 {
		return "", fmt.Errorf("%w: max emails must not be negative", ErrInvalidInput)
	}
	if typ == session.TypeDateRange && params.StartDate != "" {
		if _, err := time.Parse("2006-01-02", params.StartDate); err != nil {
			return "", fmt.Errorf("%w: start date %q is not YYYY-MM-DD", ErrInvalidInput, params.StartDate)
		}
	}

	o.startMu.Lock()
	defer o.startMu.Unlock()

	// A running local session means the answer is already known
	if o.store.Running() {
		o.log.Info("Start requested while a sync session is already running; attaching")
		return OutcomeAttached, nil
	}

	outcome, err := o.startFlow(ctx, typ, params)
	o.metrics.RecordStartAttempt(ctx, string(typ), outcomeLabel(outcome, err))
	return outcome, err
}

func (o *defaultOrchestrator) startFlow(ctx context.Context, typ session.Type, params StartParams) (StartOutcome, error) {
	flowStart := time.Now()
	o.setState(StateChecking)
	slog.Info("Start flow beginning", "sync_type", typ, "max_emails", params.MaxEmails)

	// Checking and confirming: a fixed number of probes at a fixed cadence.
	// Finding an active job at any probe short-circuits to attach.
	if status := o.probeForActiveJob(ctx); status != nil {
		return o.attach(ctx, status)
	}
	if err := ctx.Err(); err != nil {
		o.fail(fmt.Errorf("start cancelled: %w", err))
		return "", err
	}

	// Final safety check immediately before issuing the start. Probe errors
	// here are ignored; the server rejects a duplicate start anyway.
	if status, _, err := o.client.MonitoringStatus(ctx); err == nil && status.SyncProgress.IsActive {
		return o.attach(ctx, status)
	}

	o.setState(StateStarting)
	resp, ep, err := o.client.StartSync(ctx, remote.StartRequest{
		SyncType:  string(typ),
		MaxEmails: params.MaxEmails,
		StartDate: params.StartDate,
	})
	if err != nil {
		// The window between the last check and the start cannot be closed;
		// the server's rejection is the authoritative answer
		if errors.Is(err, remote.ErrAlreadyRunning) {
			o.log.Info("Server reports a sync already in progress; attaching")
			return o.attachAfterConflict(ctx, ep)
		}
		o.fail(err)
		return "", err
	}

	return o.begin(typ, params, resp, ep, flowStart)
}

// probeForActiveJob performs the initial check plus the configured number of
// confirmations, one probe per confirmDelay. It returns the status snapshot
// that showed an active job, or nil when every probe found the server idle.
func (o *defaultOrchestrator) probeForActiveJob(ctx context.Context) *remote.MonitoringStatus {
	probes := 0
	op := func() (*remote.MonitoringStatus, error) {
		probes++
		if probes > 1 {
			o.setState(StateConfirming)
		}

		status, _, err := o.client.MonitoringStatus(ctx)
		if err != nil {
			// A failed probe consumes a check rather than aborting the flow;
			// the pre-start verify and the server's own rejection still guard
			// against duplicates
			slog.Warn("Pre-start status check failed", "probe", probes, "error", err)
			o.log.Warn(fmt.Sprintf("pre-start check failed: %v", err))
			return nil, err
		}
		if status.SyncProgress.IsActive {
			return status, nil
		}
		return nil, errNoActiveJob
	}

	status, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(o.confirmDelay)),
		backoff.WithMaxTries(uint(1+o.confirmRetries)),
	)
	if err != nil {
		return nil
	}
	return status
}

// attach adopts an already-running server job as the local session
func (o *defaultOrchestrator) attach(ctx context.Context, status *remote.MonitoringStatus) (StartOutcome, error) {
	prog := &status.SyncProgress

	typ := session.Type(prog.SyncType)
	if !typ.Valid() {
		typ = session.TypeBackground
	}
	startTime, _ := prog.StartedAt()

	snapshot, err := o.store.Attach(typ, startTime, 0, "")
	if err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			// Another flow attached first; both converge on the same session
			o.setState(StateAttached)
			return OutcomeAttached, nil
		}
		o.fail(err)
		return "", err
	}

	o.store.ApplyRemote(session.RemoteUpdate{
		EmailsSynced:    prog.Synced(),
		ErrorCount:      prog.ErrorCount,
		BatchCount:      prog.CurrentBatch,
		ProgressPercent: prog.ProgressPercentage,
		EmailsPerMinute: prog.EmailsPerMinute,
	})

	o.setState(StateAttached)
	o.log.Info(fmt.Sprintf("Attached to running %s sync", typ))
	o.notify(eventlog.SeverityInfo, "Attached to a sync already in progress")
	slog.Info("Attached to existing sync job", "session_id", snapshot.ID, "sync_type", typ)

	o.monitor.Start(o.baseCtx)
	return OutcomeAttached, nil
}

// attachAfterConflict handles a start rejected with "already running" when
// no status snapshot is at hand: fetch one, then attach. A failed fetch
// still attaches with what little is known, because the server has already
// confirmed a job exists.
func (o *defaultOrchestrator) attachAfterConflict(ctx context.Context, ep string) (StartOutcome, error) {
	if status, _, err := o.client.MonitoringStatus(ctx); err == nil && status.SyncProgress.IsActive {
		return o.attach(ctx, status)
	}

	if _, err := o.store.Attach(session.TypeBackground, time.Time{}, 0, ep); err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			o.setState(StateAttached)
			return OutcomeAttached, nil
		}
		o.fail(err)
		return "", err
	}

	o.setState(StateAttached)
	o.log.Info("Attached to running sync")
	o.notify(eventlog.SeverityInfo, "Attached to a sync already in progress")
	o.monitor.Start(o.baseCtx)
	return OutcomeAttached, nil
}

// begin records the accepted job as the local session. A start response
// that already carries the final counts means the server ran the job
// synchronously; the session is finalized without spinning up the monitor.
func (o *defaultOrchestrator) begin(typ session.Type, params StartParams, resp *remote.StartResponse, ep string, flowStart time.Time) (StartOutcome, error) {
	snapshot, err := o.store.Begin(typ, params.MaxEmails, ep)
	if err != nil {
		o.fail(err)
		return "", err
	}

	if resp.Status == remote.StatusCompleted || resp.EmailsSynced > 0 {
		// The job ran inside the start call, so the flow duration is the
		// session duration; the session clock never ticked.
		o.store.ApplyRemote(session.RemoteUpdate{
			EmailsSynced: resp.EmailsSynced,
			Elapsed:      time.Since(flowStart),
		})
		final, _ := o.store.Finalize(session.OutcomeCompleted, "")
		o.setState(StateIdle)
		o.log.Info(fmt.Sprintf("Sync Completed: %d emails synced", final.EmailsSynced))
		o.notify(eventlog.SeverityInfo, fmt.Sprintf("Sync completed: %d emails synced", final.EmailsSynced))
		slog.Info("Sync ran synchronously", "session_id", final.ID, "emails_synced", final.EmailsSynced)
		o.metrics.RecordSessionDuration(context.Background(), string(typ), final.Elapsed, string(session.OutcomeCompleted))
		return OutcomeCompleted, nil
	}

	o.setState(StateRunning)
	o.log.Info(fmt.Sprintf("Started %s sync via %s", typ, ep))
	o.notify(eventlog.SeverityInfo, fmt.Sprintf("%s sync started", typ))
	slog.Info("Sync job started",
		"session_id", snapshot.ID,
		"sync_type", typ,
		"endpoint", ep)

	o.monitor.Start(o.baseCtx)
	return OutcomeStarted, nil
}

// fail records a failed start. Failure is recoverable: the coordinator
// stays startable and the error is surfaced exactly once to the caller.
func (o *defaultOrchestrator) fail(err error) {
	o.setState(StateFailed)
	o.log.Error(fmt.Sprintf("Sync start failed: %v", err))
	o.notify(eventlog.SeverityError, fmt.Sprintf("Sync start failed: %v", err))
	slog.Error("Start flow failed", "error", err)
}

// StopSync asks the server to stop the running job. The session is only
// finalized after the server confirms, so a failed stop leaves it intact
// for a retry.
func (o *defaultOrchestrator) StopSync(ctx context.Context) error {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	if !o.store.Running() {
		return session.ErrNoSession
	}

	resp, err := o.client.StopSync(ctx)
	if err != nil {
		o.log.Error(fmt.Sprintf("Stop failed: %v", err))
		return err
	}

	o.monitor.Stop()
	final, ferr := o.store.Finalize(session.OutcomeStopped, "")
	if ferr != nil {
		return ferr
	}

	o.setState(StateIdle)
	o.log.Info("Sync stopped by user")
	o.notify(eventlog.SeverityInfo, "Sync stopped")
	slog.Info("Sync job stopped",
		"session_id", final.ID,
		"sync_stopped", resp.SyncStopped,
		"emails_synced", final.EmailsSynced)
	o.metrics.RecordSessionDuration(ctx, string(final.Type), final.Elapsed, string(session.OutcomeStopped))
	return nil
}

// CanResume reports whether the server holds resumable unfinished work
func (o *defaultOrchestrator) CanResume(ctx context.Context) (bool, string, error) {
	info, err := o.client.ResumeInfo(ctx)
	if err != nil {
		return false, "", err
	}
	return info.CanResume, info.ResumeReason, nil
}

// ResumeSync continues an abandoned job from its continuation point and
// re-enters the monitoring loop on success
func (o *defaultOrchestrator) ResumeSync(ctx context.Context) error {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	if o.store.Running() {
		return session.ErrSessionActive
	}

	info, err := o.client.ResumeInfo(ctx)
	if err != nil {
		return err
	}
	if !info.CanResume {
		reason := info.ResumeReason
		if reason == "" {
			reason = "no resumable work on server"
		}
		return fmt.Errorf("cannot resume: %s", reason)
	}

	if _, err := o.client.ResumeSync(ctx); err != nil {
		o.log.Error(fmt.Sprintf("Resume failed: %v", err))
		o.notify(eventlog.SeverityError, fmt.Sprintf("Resume failed: %v", err))
		return err
	}

	// The resumed job is server-initiated from this client's perspective
	typ := session.TypeBackground
	startTime := time.Time{}
	if status, _, serr := o.client.MonitoringStatus(ctx); serr == nil && status.SyncProgress.IsActive {
		if t := session.Type(status.SyncProgress.SyncType); t.Valid() {
			typ = t
		}
		startTime, _ = status.SyncProgress.StartedAt()
	}

	snapshot, err := o.store.Attach(typ, startTime, 0, "")
	if err != nil {
		return err
	}

	o.setState(StateAttached)
	o.log.Info("Resumed stalled sync")
	o.notify(eventlog.SeverityInfo, "Sync resumed")
	slog.Info("Sync job resumed", "session_id", snapshot.ID, "sync_type", typ)

	o.monitor.Start(o.baseCtx)
	return nil
}

func (o *defaultOrchestrator) notify(severity eventlog.Severity, message string) {
	if o.notifier != nil {
		o.notifier.Notify(severity, message)
	}
}

func outcomeLabel(outcome StartOutcome, err error) string {
	if err != nil {
		return "failed"
	}
	return string(outcome)
}
