package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bq2pg/internal/config"
	"bq2pg/internal/etlerr"
	"bq2pg/internal/logger"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "bq2pg",
	Short: "Incrementally load BigQuery events into PostgreSQL",
	Long: `A checkpointed ETL from a BigQuery (GA4 export) events table into PostgreSQL.
Each run extracts the window since the last checkpoint, upserts it on the
natural key and advances the checkpoint only when everything was loaded.
Without a subcommand it runs the service (same as "bq2pg serve").`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return etlerr.Configuration("config", err)
		}
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd, runCmd, backfillCmd, schemaCmd, checkpointCmd, validateCmd, versionCmd)
}

// setup loads the configuration and builds the logger
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, etlerr.Configuration("logger", fmt.Errorf("failed to initialize logger: %w", err))
	}
	return cfg, log, nil
}

// exitCode is 2 for configuration problems and 1 for everything else
func exitCode(err error) int {
	if etlerr.KindOf(err) == etlerr.KindConfiguration {
		return 2
	}
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
