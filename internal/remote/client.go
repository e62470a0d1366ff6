// Package remote wraps the archival server's sync control and monitoring
// operations in typed calls. Transport concerns (candidate endpoints,
// per-attempt timeouts) live in the endpoint resolver; this package owns the
// payload shapes and the interpretation of structured rejections.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mailvault/sync-monitor/internal/endpoint"
)

// API paths on the archival server
const (
	monitoringStatusPath = "/api/sync/real-time-status"
	startSyncPath        = "/api/sync/start"
	stopSyncPath         = "/api/sync/stop"
	resumeInfoPath       = "/api/sync/resume-info"
	resumeSyncPath       = "/api/sync/resume"
)

// Client exposes the remote sync operations consumed by the engine
//
// The endpoint string returned alongside results is the base URL that served
// the call, recorded on the session as EndpointUsed.
type Client interface {
	// MonitoringStatus fetches the authoritative job snapshot
	MonitoringStatus(ctx context.Context) (*MonitoringStatus, string, error)

	// StartSync issues the start command. A 409 Conflict maps to
	// ErrAlreadyRunning with the server's message attached.
	StartSync(ctx context.Context, req StartRequest) (*StartResponse, string, error)

	// StopSync requests the server stop the running job
	StopSync(ctx context.Context) (*StopResponse, error)

	// ResumeInfo reports whether unfinished work can be resumed
	ResumeInfo(ctx context.Context) (*ResumeInfo, error)

	// ResumeSync continues an abandoned job from its continuation point
	ResumeSync(ctx context.Context) (*ResumeResponse, error)
}

// defaultClient is the default implementation of Client
type defaultClient struct {
	resolver endpoint.Resolver
}

// NewClient creates a client over the given resolver
func NewClient(resolver endpoint.Resolver) Client {
	return &defaultClient{resolver: resolver}
}

// MonitoringStatus fetches the authoritative job snapshot
func (c *defaultClient) MonitoringStatus(ctx context.Context) (*MonitoringStatus, string, error) {
	var status MonitoringStatus
	ep, err := c.resolver.GetJSON(ctx, monitoringStatusPath, &status)
	if err != nil {
		return nil, "", fmt.Errorf("monitoring status: %w", err)
	}
	return &status, ep, nil
}

// StartSync issues the start command
func (c *defaultClient) StartSync(ctx context.Context, req StartRequest) (*StartResponse, string, error) {
	var resp StartResponse
	ep, err := c.resolver.PostJSON(ctx, startSyncPath, req, &resp)
	if err != nil {
		var httpErr *endpoint.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusConflict {
			var body conflictBody
			// A 409 without a parseable body still converges to attach;
			// only the message is best-effort.
			_ = json.Unmarshal(httpErr.Body, &body)
			if body.Error == "" {
				body.Error = "sync already in progress"
			}
			return nil, ep, fmt.Errorf("%w: %s", ErrAlreadyRunning, body.Error)
		}
		return nil, "", fmt.Errorf("start sync: %w", err)
	}

	// Absence of a parseable success payload is itself an error
	if resp.Status == "" && resp.Message == "" {
		return nil, "", fmt.Errorf("start sync: server returned no recognizable success payload")
	}
	return &resp, ep, nil
}

// StopSync requests the server stop the running job
func (c *defaultClient) StopSync(ctx context.Context) (*StopResponse, error) {
	var resp StopResponse
	if _, err := c.resolver.PostJSON(ctx, stopSyncPath, nil, &resp); err != nil {
		return nil, fmt.Errorf("stop sync: %w", err)
	}
	if !resp.Success {
		return &resp, fmt.Errorf("stop sync: server reported failure: %s", resp.Message)
	}
	return &resp, nil
}

// ResumeInfo reports whether unfinished work can be resumed
func (c *defaultClient) ResumeInfo(ctx context.Context) (*ResumeInfo, error) {
	var resp ResumeInfoResponse
	if _, err := c.resolver.GetJSON(ctx, resumeInfoPath, &resp); err != nil {
		return nil, fmt.Errorf("resume info: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("resume info: server reported failure: %s", resp.Error)
	}
	return &resp.ResumeInfo, nil
}

// ResumeSync continues an abandoned job from its continuation point
func (c *defaultClient) ResumeSync(ctx context.Context) (*ResumeResponse, error) {
	var resp ResumeResponse
	if _, err := c.resolver.PostJSON(ctx, resumeSyncPath, nil, &resp); err != nil {
		return nil, fmt.Errorf("resume sync: %w", err)
	}
	if !resp.Success {
		return &resp, fmt.Errorf("resume sync: %s", resp.Error)
	}
	return &resp, nil
}
