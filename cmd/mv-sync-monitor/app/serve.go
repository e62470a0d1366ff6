package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	monitorapp "github.com/mailvault/sync-monitor/internal/app"
	"github.com/mailvault/sync-monitor/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync monitor and its dashboard API",
	Long: `Run the sync monitor engine and expose the dashboard-facing REST API.

The server requires a configuration file (--config) that specifies the
candidate MailVault server endpoints plus any monitor, coordinator, HTTP,
and telemetry overrides. Environment variables with the MAILVAULT_ prefix
override file settings.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"endpoints", cfg.Server.Endpoints)

	opts := []monitorapp.MonitorAppOption{}
	if address := viper.GetString("address"); address != "" {
		opts = append(opts, monitorapp.WithAddress(address))
	}

	app, err := monitorapp.NewMonitorApp(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("Received signal, shutting down", "signal", sig.String())
	}

	return app.Stop(monitorapp.GracefulTimeout())
}
