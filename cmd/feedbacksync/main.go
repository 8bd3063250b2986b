// Package main is the feedbacksync CLI: a one-shot job that syncs feedback
// records into GitHub issues (sync) or exports them as a static report
// (export). Exit code 0 on a full run, 1 on any fatal failure.
package main

import (
	"context"
	"fmt"
	"os"

	"feedbacksync/internal/blob"
	"feedbacksync/internal/config"
	"feedbacksync/internal/observability"
	"feedbacksync/internal/services"
	"feedbacksync/internal/store"
	"feedbacksync/internal/version"
	"feedbacksync/internal/worker"

	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *observability.Logger
)

// shutdowner matches SDK tracer providers; the auto-SDK provider has no
// Shutdown and is skipped.
type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func shutdownProvider(ctx context.Context, p interface{}) {
	s, ok := p.(shutdowner)
	if !ok || s == nil {
		return
	}
	if err := s.Shutdown(ctx); err != nil && logger != nil {
		logger.Warn(ctx, "Error shutting down telemetry provider", map[string]interface{}{"error": err.Error()})
	}
}

func main() {
	ctx := context.Background()

	// Everything up to command dispatch is the fatal tier: configuration or
	// credential problems exit non-zero before any record is touched.
	var err error
	cfg, err = config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	cfg.OpenTelemetry.ServiceVersion = version.Version

	tp, mp, loggerInstance, err := observability.SetupObservability(&cfg.OpenTelemetry, "feedbacksync")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}
	logger = loggerInstance

	defer func() {
		if tp != nil {
			shutdownProvider(ctx, tp)
		}
		if mp != nil {
			shutdownProvider(ctx, mp)
		}
		_ = logger.Sync()
	}()

	rootCmd := &cobra.Command{
		Use:           "feedbacksync",
		Short:         "Sync user feedback records to GitHub issues",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	rootCmd.AddCommand(newSyncCmd(), newExportCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Error(ctx, "Run failed", err, nil)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		// Flush before os.Exit skips the deferred shutdowns.
		_ = logger.Sync()
		if tp != nil {
			shutdownProvider(ctx, tp)
		}
		if mp != nil {
			shutdownProvider(ctx, mp)
		}
		os.Exit(1)
	}
}

// openStore loads the service-account credentials and opens the document
// store client. Both failure modes are fatal.
func openStore(ctx context.Context) (*store.Client, error) {
	if err := cfg.RequireStore(); err != nil {
		return nil, err
	}

	_, raw, err := cfg.LoadServiceAccount()
	if err != nil {
		return nil, err
	}

	return store.NewClient(ctx, cfg.Store, raw, logger)
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Process pending feedback records and re-arm failed ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if err := cfg.RequireGitHub(); err != nil {
				return err
			}

			client, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Warn(ctx, "Failed to close store client", map[string]interface{}{"error": err.Error()})
				}
			}()

			tracker, err := services.NewGitHubService(cfg.GitHub, logger)
			if err != nil {
				return err
			}

			reassembler := blob.NewReassembler(client, logger)
			var persister *blob.Persister
			if cfg.Screenshots.Dir != "" {
				persister = blob.NewPersister(cfg.Screenshots.Dir, logger)
			}

			syncer := worker.NewSyncer(client, reassembler, persister, tracker, cfg.Sync, logger)
			stats, err := syncer.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Synced %d, failed %d, skipped %d, re-armed %d\n",
				stats.Synced, stats.Failed, stats.Skipped, stats.Rearmed)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export recent feedback records to JSON, HTML and a text summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			client, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Warn(ctx, "Failed to close store client", map[string]interface{}{"error": err.Error()})
				}
			}()

			exporter := worker.NewExporter(client, blob.NewReassembler(client, logger),
				cfg.Export, cfg.Sync.RetryCeiling, logger)
			result, err := exporter.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Exported %d records (%d screenshots), run %s\n", result.Count, result.Screenshots, result.RunID)
			fmt.Printf("  JSON:    %s\n", result.JSONPath)
			fmt.Printf("  HTML:    %s\n", result.HTMLPath)
			fmt.Printf("  Summary: %s\n", result.SummaryPath)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("feedbacksync " + version.String())
		},
	}
}
