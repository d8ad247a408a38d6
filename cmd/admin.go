package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bq2pg/internal/app"
	"bq2pg/internal/checkpoint"
	"bq2pg/internal/etlerr"
	"bq2pg/internal/postgres"
	"bq2pg/internal/progress"
	"bq2pg/internal/schema"
	"bq2pg/internal/warehouse"
	"bq2pg/internal/window"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the target table DDL, or create/verify it with --apply",
	RunE:  runSchema,
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or repair the checkpoint",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored checkpoint",
	RunE:  runCheckpointShow,
}

var checkpointSetCmd = &cobra.Command{
	Use:   "set TIMESTAMP",
	Short: "Overwrite the checkpoint (RFC 3339 timestamp or YYYY-MM-DD)",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointSet,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print it with secrets masked",
	RunE:  runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	schemaCmd.Flags().Bool("apply", false, "Create the table if absent and verify an existing one")
	checkpointSetCmd.Flags().Bool("force", false, "Allow moving the checkpoint backwards")
	validateCmd.Flags().Bool("estimate", false, "Dry-run the next incremental query and report the bytes it would scan")

	checkpointCmd.AddCommand(checkpointShowCmd, checkpointSetCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	apply, _ := cmd.Flags().GetBool("apply")
	if !apply {
		m, err := schema.NewManager(nil, cfg.Postgres.Table, log)
		if err != nil {
			return err
		}
		fmt.Println(m.CreateTableSQL() + ";")
		for _, stmt := range m.IndexSQL() {
			fmt.Println(stmt + ";")
		}
		return nil
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, app.PostgresConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := schema.NewManager(db, cfg.Postgres.Table, log)
	if err != nil {
		return err
	}
	if err := m.EnsureSchema(ctx); err != nil {
		return err
	}
	fmt.Printf("Table %s is ready\n", m.Table())
	return nil
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	store, err := app.OpenCheckpoint(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cp, err := store.Read(ctx)
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Printf("No checkpoint; the next run starts %d hours back\n", cfg.ETL.LookbackHours)
		return nil
	}
	fmt.Println(checkpoint.Format(*cp))

	details, err := objectDetails(ctx, store)
	if err != nil {
		return err
	}
	if details != "" {
		fmt.Println(details)
	}
	return nil
}

// objectDetails describes the checkpoint object for the s3 and gcs backends
func objectDetails(ctx context.Context, store checkpoint.Store) (string, error) {
	obj, ok := store.(*checkpoint.ObjectStore)
	if !ok {
		return "", nil
	}
	info, err := obj.Stat(ctx)
	if err != nil || info == nil {
		return "", err
	}
	return fmt.Sprintf("Object %s: %d bytes, last modified %s",
		obj.Location(), info.Size, info.LastModified.UTC().Format(time.RFC3339)), nil
}

func runCheckpointSet(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ts, err := parseCheckpointArg(args[0])
	if err != nil {
		return etlerr.Configuration("checkpoint.set", err)
	}
	force, _ := cmd.Flags().GetBool("force")

	ctx := context.Background()
	store, err := app.OpenCheckpoint(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	current, err := store.Read(ctx)
	if err != nil {
		return err
	}
	if current != nil && ts.Before(*current) && !force {
		return etlerr.Configuration("checkpoint.set",
			fmt.Errorf("%s is before the stored checkpoint %s; use --force to move it backwards",
				checkpoint.Format(ts), checkpoint.Format(*current)))
	}

	if err := store.Write(ctx, ts); err != nil {
		return err
	}
	log.Info("Checkpoint overwritten", zap.Timep("previous", current), zap.Time("checkpoint", ts))
	fmt.Println(checkpoint.Format(ts))
	return nil
}

// parseCheckpointArg accepts the stored format as well as a plain date.
// Eight digits read as YYYYMMDD, not as epoch microseconds.
func parseCheckpointArg(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) == 8 {
		if ts, err := app.ParseDate(s); err == nil {
			return ts, nil
		}
	}
	if ts, err := checkpoint.Parse(s); err == nil {
		return ts, nil
	}
	if ts, err := app.ParseDate(s); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q (use RFC 3339 or YYYY-MM-DD)", s)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	text, err := cfg.Redacted().YAML()
	if err != nil {
		return err
	}
	fmt.Print(text)
	fmt.Println("# configuration is valid")

	estimate, _ := cmd.Flags().GetBool("estimate")
	if !estimate {
		return nil
	}

	ctx := context.Background()
	store, err := app.OpenCheckpoint(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	cp, err := store.Read(ctx)
	if err != nil {
		return err
	}

	w := window.Plan(cp, cfg.Lookback(), time.Now().Truncate(time.Microsecond))
	if w.Empty() {
		fmt.Printf("# next window %s is empty\n", w)
		return nil
	}

	ex, err := warehouse.NewExtractor(ctx, app.ExtractorConfig(cfg), log)
	if err != nil {
		return err
	}
	defer ex.Close()

	bytes, err := ex.Estimate(ctx, w, cfg.BigQuery.Events)
	if err != nil {
		return err
	}
	fmt.Printf("# next window %s would scan %s\n", w, progress.FormatBytes(bytes))
	return nil
}
