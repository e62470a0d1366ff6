package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mailvault/sync-monitor/internal/eventlog"
	"github.com/mailvault/sync-monitor/internal/history"
	"github.com/mailvault/sync-monitor/internal/orchestrator"
	"github.com/mailvault/sync-monitor/internal/session"
	"github.com/mailvault/sync-monitor/internal/versions"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionResponse wraps the current session for the dashboard
type SessionResponse struct {
	Active  bool             `json:"active"`
	State   string           `json:"state"`
	Session *session.Session `json:"session,omitempty"`

	// LastSession is the most recent finished session, surviving restarts
	LastSession *session.Session `json:"last_session,omitempty"`
}

// StartSyncRequest is the start-sync request body
type StartSyncRequest struct {
	SyncType  string `json:"sync_type"`
	MaxEmails int    `json:"max_emails"`
	StartDate string `json:"start_date,omitempty"`
}

// StartSyncResponse reports how a start request concluded
type StartSyncResponse struct {
	Outcome string          `json:"outcome"`
	Session session.Session `json:"session"`
}

// ResumeInfoResponse reports whether a stalled sync can be resumed
type ResumeInfoResponse struct {
	CanResume bool   `json:"can_resume"`
	Reason    string `json:"reason,omitempty"`
}

// Routes defines the dashboard routes with dependency injection
type Routes struct {
	orch     orchestrator.Orchestrator
	store    *session.Store
	log      *eventlog.Log
	notifier *eventlog.Notifier
	history  history.Persistence
}

// RoutesOption configures optional route collaborators
type RoutesOption func(*Routes)

// WithHistory adds last-session persistence to the session endpoint
func WithHistory(hist history.Persistence) RoutesOption {
	return func(rr *Routes) {
		rr.history = hist
	}
}

// NewRoutes creates a new Routes instance with the provided collaborators
func NewRoutes(orch orchestrator.Orchestrator, store *session.Store, log *eventlog.Log, notifier *eventlog.Notifier, opts ...RoutesOption) *Routes {
	rr := &Routes{
		orch:     orch,
		store:    store,
		log:      log,
		notifier: notifier,
	}
	for _, opt := range opts {
		opt(rr)
	}
	return rr
}

// getSession handles GET /api/v1/session
func (rr *Routes) getSession(w http.ResponseWriter, r *http.Request) {
	resp := SessionResponse{State: string(rr.orch.State())}
	if snapshot, ok := rr.store.Snapshot(); ok {
		resp.Active = snapshot.Running
		resp.Session = &snapshot
	}

	if rr.history != nil {
		last, err := rr.history.LoadLast(r.Context())
		if err != nil {
			slog.Warn("Failed to load last session", "error", err)
		} else {
			resp.LastSession = last
		}
	}

	rr.writeJSONResponse(w, resp)
}

// getEvents handles GET /api/v1/events
func (rr *Routes) getEvents(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.log.Entries())
}

// getNotifications handles GET /api/v1/notifications
func (rr *Routes) getNotifications(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.notifier.Active())
}

// dismissNotification handles DELETE /api/v1/notifications/{id}
func (rr *Routes) dismissNotification(w http.ResponseWriter, r *http.Request) {
	rr.notifier.Dismiss(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// getResumeInfo handles GET /api/v1/sync/resume-info
func (rr *Routes) getResumeInfo(w http.ResponseWriter, r *http.Request) {
	canResume, reason, err := rr.orch.CanResume(r.Context())
	if err != nil {
		slog.Error("Resume info lookup failed", "error", err)
		rr.writeErrorResponse(w, "Failed to fetch resume info", http.StatusBadGateway)
		return
	}
	rr.writeJSONResponse(w, ResumeInfoResponse{CanResume: canResume, Reason: reason})
}

// startSync handles POST /api/v1/sync/start
func (rr *Routes) startSync(w http.ResponseWriter, r *http.Request) {
	var req StartSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	typ := session.Type(req.SyncType)
	if !typ.Valid() {
		rr.writeErrorResponse(w, "Unknown sync type: "+req.SyncType, http.StatusBadRequest)
		return
	}

	outcome, err := rr.orch.StartSync(r.Context(), typ, orchestrator.StartParams{
		MaxEmails: req.MaxEmails,
		StartDate: req.StartDate,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidInput) {
			rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Start sync failed", "sync_type", typ, "error", err)
		rr.writeErrorResponse(w, err.Error(), http.StatusBadGateway)
		return
	}

	snapshot, _ := rr.store.Snapshot()
	rr.writeJSONResponse(w, StartSyncResponse{
		Outcome: string(outcome),
		Session: snapshot,
	})
}

// stopSync handles POST /api/v1/sync/stop
func (rr *Routes) stopSync(w http.ResponseWriter, r *http.Request) {
	if err := rr.orch.StopSync(r.Context()); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			rr.writeErrorResponse(w, "No sync session is running", http.StatusConflict)
			return
		}
		slog.Error("Stop sync failed", "error", err)
		rr.writeErrorResponse(w, err.Error(), http.StatusBadGateway)
		return
	}

	snapshot, _ := rr.store.Snapshot()
	rr.writeJSONResponse(w, SessionResponse{
		Active:  snapshot.Running,
		State:   string(rr.orch.State()),
		Session: &snapshot,
	})
}

// resumeSync handles POST /api/v1/sync/resume
func (rr *Routes) resumeSync(w http.ResponseWriter, r *http.Request) {
	if err := rr.orch.ResumeSync(r.Context()); err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			rr.writeErrorResponse(w, "A sync session is already running", http.StatusConflict)
			return
		}
		slog.Error("Resume sync failed", "error", err)
		rr.writeErrorResponse(w, err.Error(), http.StatusBadGateway)
		return
	}

	snapshot, _ := rr.store.Snapshot()
	rr.writeJSONResponse(w, SessionResponse{
		Active:  snapshot.Running,
		State:   string(rr.orch.State()),
		Session: &snapshot,
	})
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	response := map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_date": info.BuildDate,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode version info", "error", err)
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
