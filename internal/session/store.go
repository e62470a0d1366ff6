package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionActive is returned when a transition would create a second
// running session
var ErrSessionActive = errors.New("a sync session is already running")

// ErrNoSession is returned when a transition requires a current session
var ErrNoSession = errors.New("no sync session")

// RemoteUpdate carries the authoritative fields from a remote status
// snapshot. The store applies it verbatim: remote truth always overwrites
// local estimates.
type RemoteUpdate struct {
	EmailsSynced        int
	ErrorCount          int
	BatchCount          int
	ProgressPercent     float64
	EmailsPerMinute     float64
	Elapsed             time.Duration
	EstimatedCompletion *time.Time
	LastError           string
}

// Store holds the single client-side SyncSession and enforces the
// single-writer invariant: at most one running session, all mutation through
// transition methods, subscribers notified with copies.
type Store struct {
	mu          sync.Mutex
	current     *Session
	subscribers []func(Session)
	now         func() time.Time
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Subscribe registers a session-changed callback. Callbacks receive a copy
// of the session after every transition and must not block for long; they
// run synchronously outside the store lock.
func (s *Store) Subscribe(fn func(Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Begin creates a running session for a job this client started
func (s *Store) Begin(typ Type, totalTarget int, endpoint string) (Session, error) {
	return s.create(typ, OriginStarted, s.now(), totalTarget, endpoint)
}

// Attach creates a running session for a job observed on the server. The
// start time comes from the remote snapshot so elapsed-time derivation
// reflects the real job age.
func (s *Store) Attach(typ Type, startTime time.Time, totalTarget int, endpoint string) (Session, error) {
	if startTime.IsZero() {
		startTime = s.now()
	}
	return s.create(typ, OriginAttached, startTime, totalTarget, endpoint)
}

func (s *Store) create(typ Type, origin Origin, startTime time.Time, totalTarget int, endpoint string) (Session, error) {
	s.mu.Lock()
	if s.current != nil && s.current.Running {
		snapshot := *s.current
		s.mu.Unlock()
		return snapshot, ErrSessionActive
	}

	s.current = &Session{
		ID:           uuid.NewString(),
		Type:         typ,
		Origin:       origin,
		StartTime:    startTime,
		TotalTarget:  totalTarget,
		Running:      true,
		EndpointUsed: endpoint,
	}
	snapshot := *s.current
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

// ApplyRemote overwrites the session counters with an authoritative remote
// snapshot. It is a no-op when no session is running, which makes late
// slow-tick callbacks harmless after a stop or terminal event.
func (s *Store) ApplyRemote(update RemoteUpdate) bool {
	s.mu.Lock()
	if s.current == nil || !s.current.Running {
		s.mu.Unlock()
		return false
	}

	s.current.EmailsSynced = update.EmailsSynced
	s.current.ErrorCount = update.ErrorCount
	s.current.BatchCount = update.BatchCount
	s.current.ProgressPercent = update.ProgressPercent
	s.current.EmailsPerMinute = update.EmailsPerMinute
	s.current.Elapsed = update.Elapsed
	s.current.EstimatedCompletion = update.EstimatedCompletion
	if update.LastError != "" {
		s.current.LastError = update.LastError
	}
	snapshot := *s.current
	s.mu.Unlock()

	s.notify(snapshot)
	return true
}

// ApplyLocalEstimate re-derives the display fields from the local session
// only: elapsed time from the start time, instantaneous rate from the synced
// count, and a projected completion. No-op when no session is running.
func (s *Store) ApplyLocalEstimate() bool {
	s.mu.Lock()
	if s.current == nil || !s.current.Running {
		s.mu.Unlock()
		return false
	}

	now := s.now()
	elapsed := now.Sub(s.current.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}
	s.current.Elapsed = elapsed

	if minutes := elapsed.Minutes(); minutes > 0 {
		s.current.EmailsPerMinute = float64(s.current.EmailsSynced) / minutes
	}
	if s.current.TotalTarget > 0 {
		percent := float64(s.current.EmailsSynced) / float64(s.current.TotalTarget) * 100
		if percent > 100 {
			percent = 100
		}
		s.current.ProgressPercent = percent

		if s.current.EmailsPerMinute > 0 && s.current.EmailsSynced < s.current.TotalTarget {
			remaining := float64(s.current.TotalTarget-s.current.EmailsSynced) / s.current.EmailsPerMinute
			eta := now.Add(time.Duration(remaining * float64(time.Minute)))
			s.current.EstimatedCompletion = &eta
		}
	}
	snapshot := *s.current
	s.mu.Unlock()

	s.notify(snapshot)
	return true
}

// Finalize moves the running session to a terminal outcome
func (s *Store) Finalize(outcome Outcome, lastError string) (Session, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return Session{}, ErrNoSession
	}

	s.current.Running = false
	s.current.Outcome = outcome
	if lastError != "" {
		s.current.LastError = lastError
	}
	snapshot := *s.current
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

// MarkStale records that the server stopped advancing the job: the session
// stops running, the speed drops to zero, and the projection is replaced by
// the stalled marker.
func (s *Store) MarkStale(reason string) (Session, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return Session{}, ErrNoSession
	}

	s.current.Running = false
	s.current.Outcome = OutcomeStale
	s.current.Stalled = true
	s.current.EmailsPerMinute = 0
	s.current.EstimatedCompletion = nil
	if reason != "" {
		s.current.LastError = reason
	}
	snapshot := *s.current
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

// Snapshot returns a copy of the current session, if any
func (s *Store) Snapshot() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// Running reports whether a session is currently running
func (s *Store) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.Running
}

func (s *Store) notify(snapshot Session) {
	s.mu.Lock()
	subscribers := make([]func(Session), len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(snapshot)
	}
}
