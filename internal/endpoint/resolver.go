// Package endpoint issues bounded-time HTTP calls against an ordered list of
// candidate server endpoints, returning the first success or a terminal
// failure. Every read and command in the sync engine goes through it.
package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mailvault/sync-monitor/internal/eventlog"
)

const (
	defaultTimeout = 10 * time.Second

	// maxResponseSize caps response bodies; the sync API returns small JSON
	// documents, so anything larger is a misbehaving server
	maxResponseSize = 10 * 1024 * 1024

	userAgent = "mailvault-sync-monitor/1.0"
)

// Resolver attempts each candidate endpoint in order and returns the base
// URL that served the request alongside any error.
//
// Advancement rules: transport errors, per-attempt timeouts, and 5xx
// responses advance to the next candidate. A 4xx response is conclusive (the
// server understood and rejected the request) and propagates immediately as
// *HTTPError with the body preserved. A 2xx response that fails to decode
// propagates immediately as *DecodeError.
type Resolver interface {
	// GetJSON issues a GET for path and decodes the response into out
	GetJSON(ctx context.Context, path string, out any) (string, error)

	// PostJSON issues a POST with a JSON body and decodes the response into out
	PostJSON(ctx context.Context, path string, body any, out any) (string, error)
}

// defaultResolver is the default implementation of Resolver
type defaultResolver struct {
	endpoints []string
	timeout   time.Duration
	client    *http.Client
	log       *eventlog.Log
}

// Option is a function that configures the resolver
type Option func(*defaultResolver)

// WithHTTPClient overrides the underlying HTTP client (primarily for testing)
func WithHTTPClient(client *http.Client) Option {
	return func(r *defaultResolver) {
		r.client = client
	}
}

// WithEventLog records failed attempts in the engine's event log
func WithEventLog(log *eventlog.Log) Option {
	return func(r *defaultResolver) {
		r.log = log
	}
}

// NewResolver creates a resolver over the given ordered candidate base URLs.
// A non-positive timeout uses the default per-attempt timeout.
func NewResolver(endpoints []string, timeout time.Duration, opts ...Option) Resolver {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	normalized := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		normalized = append(normalized, strings.TrimRight(ep, "/"))
	}

	r := &defaultResolver{
		endpoints: normalized,
		timeout:   timeout,
		client:    &http.Client{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetJSON issues a GET for path and decodes the response into out
func (r *defaultResolver) GetJSON(ctx context.Context, path string, out any) (string, error) {
	return r.do(ctx, http.MethodGet, path, nil, out)
}

// PostJSON issues a POST with a JSON body and decodes the response into out
func (r *defaultResolver) PostJSON(ctx context.Context, path string, body any, out any) (string, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	return r.do(ctx, http.MethodPost, path, payload, out)
}

func (r *defaultResolver) do(ctx context.Context, method, path string, payload []byte, out any) (string, error) {
	if len(r.endpoints) == 0 {
		return "", fmt.Errorf("%w: no endpoints configured", ErrAllEndpointsExhausted)
	}

	var lastErr error
	for _, base := range r.endpoints {
		// Stop early once the caller's context is gone; the per-attempt
		// timeout below must not mask an overall cancellation.
		if err := ctx.Err(); err != nil {
			return "", err
		}

		url := base + path
		data, attemptErr := r.attempt(ctx, method, url, payload)
		if attemptErr != nil {
			var httpErr *HTTPError
			if errors.As(attemptErr, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError {
				// Conclusive rejection; the caller interprets it
				return base, attemptErr
			}

			r.logAttemptFailure(method, url, attemptErr)
			lastErr = attemptErr
			continue
		}

		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return base, &DecodeError{URL: url, Err: err}
			}
		}
		return base, nil
	}

	return "", fmt.Errorf("%w (%s %s): last attempt: %v", ErrAllEndpointsExhausted, method, path, lastErr)
}

// attempt performs a single bounded-time request and returns the body on 2xx
func (r *defaultResolver) attempt(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("response from %s exceeds maximum allowed size", url)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: data}
	}

	return data, nil
}

func (r *defaultResolver) logAttemptFailure(method, url string, err error) {
	slog.Warn("Endpoint attempt failed, trying next candidate",
		"method", method,
		"url", url,
		"error", err)
	if r.log != nil {
		r.log.Warn(fmt.Sprintf("endpoint attempt failed: %s %s: %v", method, url, err))
	}
}
