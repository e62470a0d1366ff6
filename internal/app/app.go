// Package app provides application lifecycle management for the sync
// monitor: it assembles the engine components and runs the dashboard-facing
// HTTP server with graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// MonitorApp encapsulates all components needed to run the sync monitor
type MonitorApp struct {
	components *Components
	httpServer *http.Server

	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Components returns the assembled engine components
func (app *MonitorApp) Components() *Components {
	return app.components
}

// Start starts the HTTP server. This method blocks until the server stops or
// encounters an error.
func (app *MonitorApp) Start() error {
	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the application with the given timeout. The monitor
// loops are stopped before the HTTP server so no poll outlives the process.
func (app *MonitorApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	app.components.Monitor.Stop()

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
