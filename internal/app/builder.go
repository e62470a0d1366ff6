package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"

	"github.com/mailvault/sync-monitor/internal/api"
	"github.com/mailvault/sync-monitor/internal/config"
	"github.com/mailvault/sync-monitor/internal/endpoint"
	"github.com/mailvault/sync-monitor/internal/eventlog"
	"github.com/mailvault/sync-monitor/internal/history"
	"github.com/mailvault/sync-monitor/internal/monitor"
	"github.com/mailvault/sync-monitor/internal/orchestrator"
	"github.com/mailvault/sync-monitor/internal/remote"
	"github.com/mailvault/sync-monitor/internal/session"
	"github.com/mailvault/sync-monitor/internal/telemetry"
	"github.com/mailvault/sync-monitor/internal/versions"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	defaultRequestTimeout  = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
)

// Components holds the assembled engine components. Exposed so commands and
// tests can reach individual pieces after the build.
type Components struct {
	Store        *session.Store
	EventLog     *eventlog.Log
	Notifier     *eventlog.Notifier
	Resolver     endpoint.Resolver
	Client       remote.Client
	Monitor      monitor.Monitor
	Orchestrator orchestrator.Orchestrator
	History      history.Persistence
}

// MonitorAppOption is a function that configures the app builder
type MonitorAppOption func(*monitorAppConfig) error

// monitorAppConfig holds builder state, with optional component overrides
// primarily for testing
type monitorAppConfig struct {
	config *config.Config

	client remote.Client

	address     string
	middlewares []func(http.Handler) http.Handler

	meterProvider metric.MeterProvider
}

// WithRemoteClient overrides the remote client, bypassing the endpoint
// resolver entirely
func WithRemoteClient(client remote.Client) MonitorAppOption {
	return func(cfg *monitorAppConfig) error {
		cfg.client = client
		return nil
	}
}

// WithAddress overrides the configured HTTP listen address
func WithAddress(address string) MonitorAppOption {
	return func(cfg *monitorAppConfig) error {
		cfg.address = address
		return nil
	}
}

// WithMiddlewares replaces the default middleware chain
func WithMiddlewares(mw ...func(http.Handler) http.Handler) MonitorAppOption {
	return func(cfg *monitorAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithMeterProvider overrides the meter provider
func WithMeterProvider(provider metric.MeterProvider) MonitorAppOption {
	return func(cfg *monitorAppConfig) error {
		cfg.meterProvider = provider
		return nil
	}
}

// NewMonitorApp assembles the full engine from configuration: resolver over
// the candidate endpoints, remote client, session store, event log,
// notifier, monitor, orchestrator, and the HTTP server in front of them.
func NewMonitorApp(ctx context.Context, cfg *config.Config, opts ...MonitorAppOption) (*MonitorApp, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	appCfg := &monitorAppConfig{
		config:  cfg,
		address: cfg.GetListenAddress(),
	}
	for _, opt := range opts {
		if err := opt(appCfg); err != nil {
			return nil, err
		}
	}

	appCtx, cancel := context.WithCancel(ctx)

	meterProvider := appCfg.meterProvider
	if meterProvider == nil {
		mp, err := buildMeterProvider(appCtx, cfg)
		if err != nil {
			cancel()
			return nil, err
		}
		meterProvider = mp
	}

	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	monitorMetrics, err := telemetry.NewMonitorMetrics(meterProvider)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create monitor metrics: %w", err)
	}

	eventLog := eventlog.New(eventlog.DefaultCapacity)
	notifier := eventlog.NewNotifier(eventlog.DefaultDismissAfter)
	store := session.NewStore()

	var resolver endpoint.Resolver
	client := appCfg.client
	if client == nil {
		resolver = endpoint.NewResolver(
			cfg.Server.Endpoints,
			cfg.GetRequestTimeout(),
			endpoint.WithEventLog(eventLog),
		)
		client = remote.NewClient(resolver)
	}

	hist := history.NewFilePersistence(cfg.GetDataDir())
	store.Subscribe(func(snapshot session.Session) {
		// Only finished sessions are recorded; save failures never affect
		// the session itself
		if snapshot.Running || snapshot.Outcome == "" {
			return
		}
		if err := hist.SaveLast(context.Background(), snapshot); err != nil {
			slog.Warn("Failed to persist finished session", "error", err)
		}
	})

	mon := monitor.New(store, client, eventLog,
		monitor.WithFastInterval(cfg.GetFastTickInterval()),
		monitor.WithSlowInterval(cfg.GetSlowTickInterval()),
		monitor.WithNotifier(notifier),
		monitor.WithMetrics(monitorMetrics),
	)

	orch := orchestrator.New(store, client, mon, eventLog,
		orchestrator.WithConfirmRetries(cfg.GetConfirmRetries()),
		orchestrator.WithConfirmDelay(cfg.GetConfirmDelay()),
		orchestrator.WithNotifier(notifier),
		orchestrator.WithMetrics(syncMetrics),
		orchestrator.WithBaseContext(appCtx),
	)

	components := &Components{
		Store:        store,
		EventLog:     eventLog,
		Notifier:     notifier,
		Resolver:     resolver,
		Client:       client,
		Monitor:      mon,
		Orchestrator: orch,
		History:      hist,
	}

	middlewares := appCfg.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(defaultRequestTimeout),
			api.LoggingMiddleware,
		}
	}

	routes := api.NewRoutes(orch, store, eventLog, notifier, api.WithHistory(hist))
	router := api.NewServer(routes, api.WithMiddlewares(middlewares...))

	httpServer := &http.Server{
		Addr:         appCfg.address,
		Handler:      router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	return &MonitorApp{
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// GracefulTimeout returns the shutdown timeout used by the serve command
func GracefulTimeout() time.Duration {
	return defaultGracefulTimeout
}

func buildMeterProvider(ctx context.Context, cfg *config.Config) (metric.MeterProvider, error) {
	opts := []telemetry.MeterProviderOption{
		telemetry.WithMeterServiceVersion(versions.GetVersionInfo().Version),
	}
	if cfg.Telemetry != nil {
		opts = append(opts,
			telemetry.WithMetricsEnabled(cfg.Telemetry.Enabled),
			telemetry.WithMeterEndpoint(cfg.Telemetry.Endpoint),
			telemetry.WithMeterInsecure(cfg.Telemetry.Insecure),
		)
	}

	provider, err := telemetry.NewMeterProvider(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}
	return provider, nil
}
