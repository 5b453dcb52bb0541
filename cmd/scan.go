package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andr-235/keywatch/internal/app"
	"github.com/andr-235/keywatch/internal/logging"
)

// newScanCmd creates and configures the 'scan' subcommand, which runs the
// scheduler and worker pool until interrupted.
func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Starts the background scanner",
		Long: `Runs the scan loop: the scheduler enqueues due targets on every
tick and the worker pool drains the queue, fetching items from the external
API under the shared rate budget. The process runs until SIGINT or SIGTERM,
then shuts down gracefully.`,

		RunE: runScanCommand,
	}
	return cmd
}

func runScanCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer application.Close()

	logger.Info("scanner started",
		zap.Int("concurrency", cfg.Scanner.Concurrency),
		zap.Duration("tick_interval", cfg.Scanner.TickInterval),
	)

	application.Run(ctx)

	logger.Info("scanner stopped")
	return nil
}
