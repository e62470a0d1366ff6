package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	monitorapp "github.com/mailvault/sync-monitor/internal/app"
	"github.com/mailvault/sync-monitor/internal/config"
	"github.com/mailvault/sync-monitor/internal/orchestrator"
	"github.com/mailvault/sync-monitor/internal/session"
)

// watchPollInterval is how often the --watch loop samples the session
const watchPollInterval = time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a sync job",
	Long: `Start a sync job on the MailVault server.

The start flow checks for an already-running job before issuing the start
command and attaches to one when found, so running this against a busy
server never creates a duplicate job.`,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sync job",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server's live sync status",
	RunE:  runStatus,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a stalled sync job",
	RunE:  runResume,
}

func init() {
	for _, cmd := range []*cobra.Command{startCmd, stopCmd, statusCmd, resumeCmd} {
		cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
		if err := cmd.MarkFlagRequired("config"); err != nil {
			slog.Error("Failed to mark config flag as required", "error", err)
		}
	}

	startCmd.Flags().String("type", string(session.TypeQuick), "Sync type (quick, date-range, full, manual)")
	startCmd.Flags().Int("max-emails", 0, "Email ceiling for the job (0 uses the server default)")
	startCmd.Flags().String("start-date", "", "Start date for date-range syncs (YYYY-MM-DD)")
	startCmd.Flags().Bool("watch", false, "Keep polling until the job reaches a terminal state")

	resumeCmd.Flags().Bool("watch", false, "Keep polling until the job reaches a terminal state")
}

// buildComponents assembles the engine for a one-shot command
func buildComponents(ctx context.Context, cmd *cobra.Command) (*monitorapp.Components, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := monitorapp.NewMonitorApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}
	return app.Components(), nil
}

func runStart(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	components, err := buildComponents(ctx, cmd)
	if err != nil {
		return err
	}

	syncType, _ := cmd.Flags().GetString("type")
	maxEmails, _ := cmd.Flags().GetInt("max-emails")
	startDate, _ := cmd.Flags().GetString("start-date")
	watch, _ := cmd.Flags().GetBool("watch")

	outcome, err := components.Orchestrator.StartSync(ctx, session.Type(syncType), orchestrator.StartParams{
		MaxEmails: maxEmails,
		StartDate: startDate,
	})
	if err != nil {
		return err
	}

	slog.Info("Start flow finished", "outcome", outcome)

	if watch && outcome != orchestrator.OutcomeCompleted {
		if err := watchSession(ctx, components); err != nil {
			return err
		}
	}

	return printSession(components)
}

func runStop(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	components, err := buildComponents(ctx, cmd)
	if err != nil {
		return err
	}

	// One-shot processes hold no local session; the stop command talks to
	// the server directly
	resp, err := components.Client.StopSync(ctx)
	if err != nil {
		return err
	}

	slog.Info("Sync stop requested", "sync_stopped", resp.SyncStopped, "message", resp.Message)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	components, err := buildComponents(ctx, cmd)
	if err != nil {
		return err
	}

	status, ep, err := components.Client.MonitoringStatus(ctx)
	if err != nil {
		return err
	}

	slog.Debug("Fetched live status", "endpoint", ep)
	output, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}

func runResume(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	components, err := buildComponents(ctx, cmd)
	if err != nil {
		return err
	}

	if err := components.Orchestrator.ResumeSync(ctx); err != nil {
		return err
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		if err := watchSession(ctx, components); err != nil {
			return err
		}
	}

	return printSession(components)
}

// watchSession blocks until the session reaches a terminal state, logging
// progress as the monitor updates it
func watchSession(ctx context.Context, components *monitorapp.Components) error {
	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	var lastSynced int
	for {
		select {
		case <-ticker.C:
			snapshot, ok := components.Store.Snapshot()
			if !ok {
				return nil
			}
			if snapshot.EmailsSynced != lastSynced {
				lastSynced = snapshot.EmailsSynced
				slog.Info("Sync progress",
					"emails_synced", snapshot.EmailsSynced,
					"progress_percent", fmt.Sprintf("%.1f", snapshot.ProgressPercent),
					"emails_per_minute", fmt.Sprintf("%.1f", snapshot.EmailsPerMinute))
			}
			if !snapshot.Running {
				return nil
			}
		case <-ctx.Done():
			components.Monitor.Stop()
			return ctx.Err()
		}
	}
}

func printSession(components *monitorapp.Components) error {
	snapshot, ok := components.Store.Snapshot()
	if !ok {
		fmt.Println("{}")
		return nil
	}

	output, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}
