package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bq2pg/internal/app"
	"bq2pg/internal/progress"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one incremental cycle and exit",
	RunE:  runOnce,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Load an explicit date range without touching the checkpoint",
	Example: `  bq2pg backfill --days 7
  bq2pg backfill --from 2024-01-01 --to 2024-01-31 --events purchase,add_to_cart`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().String("from", "", "Start date (YYYY-MM-DD)")
	backfillCmd.Flags().String("to", "", "Last date included (YYYY-MM-DD, default: today)")
	backfillCmd.Flags().Int("days", 0, "Load the last N days")
	backfillCmd.Flags().Bool("show-progress", true, "Show progress display on terminals")
	backfillCmd.Flags().Bool("dry-run", false, "Only report the bytes BigQuery would scan")
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Close()

	report, err := pipeline.Coordinator().Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Window:     %s\n", report.Window)
	fmt.Printf("Inserted:   %d\n", report.Result.Inserted)
	fmt.Printf("Updated:    %d\n", report.Result.Updated)
	fmt.Printf("Skipped:    %d\n", report.Result.Skipped)
	if report.Checkpoint != nil {
		fmt.Printf("Checkpoint: %s\n", report.Checkpoint.Format(time.RFC3339Nano))
	}
	fmt.Printf("Duration:   %s\n", progress.FormatDuration(report.Duration))
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	days, _ := cmd.Flags().GetInt("days")
	showProgress, _ := cmd.Flags().GetBool("show-progress")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	w, err := app.BackfillRange(from, to, days, time.Now())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Close()

	if dryRun {
		bytes, err := pipeline.Estimate(ctx, w, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Window %s would scan %s\n", w, progress.FormatBytes(bytes))
		return nil
	}

	var display *progress.Display
	if showProgress && progress.IsTerminalSupported() {
		display = progress.NewDisplay(pipeline.Tracker(), 2*time.Second, os.Stderr)
		display.Start()
	} else {
		log.Info("Progress display disabled")
	}

	report, err := pipeline.Backfill(ctx, w, nil)
	if display != nil {
		display.Stop()
	}
	if err != nil {
		return err
	}

	log.Info("Backfill completed",
		zap.Stringer("window", report.Window),
		zap.Int64("inserted", report.Result.Inserted),
		zap.Int64("updated", report.Result.Updated),
		zap.Int64("skipped", report.Result.Skipped),
		zap.Duration("duration", report.Duration))
	return nil
}
