package config

import (
	"github.com/spf13/pflag"
)

// RegisterFlags defines the flags loadFromFlags understands
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("bq-project", "", "BigQuery project id")
	flags.String("bq-dataset", "", "BigQuery dataset")
	flags.String("bq-table", "", "BigQuery table")
	flags.String("bq-table-prefix", "", "BigQuery wildcard table prefix, e.g. events_")
	flags.String("bq-credentials", "", "Service account key file (default: application default credentials)")
	flags.StringSlice("events", nil, "Event names to load (default: all)")

	flags.String("pg-host", "localhost", "PostgreSQL host")
	flags.Int("pg-port", 5432, "PostgreSQL port")
	flags.String("pg-database", "", "PostgreSQL database")
	flags.String("pg-user", "", "PostgreSQL user")
	flags.String("pg-table", "application_events", "Target table")

	flags.Int("batch-size", 1000, "Rows per upsert statement")
	flags.Int("lookback-hours", 24, "Window start when no checkpoint exists")
	flags.Int("concurrency", 1, "Batches written in parallel")

	flags.String("checkpoint-backend", "file", "Checkpoint backend (file/sqlite/s3/gcs/memory)")
	flags.String("checkpoint", "last_timestamp.txt", "Checkpoint file or database path")

	flags.String("addr", ":5000", "HTTP listen address")
	flags.String("log-level", "info", "Log level (debug/info/warn/error)")
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, err = flags.GetString(name)
		}
	}
	integer := func(name string, dst *int) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, err = flags.GetInt(name)
		}
	}

	str("bq-project", &cfg.BigQuery.ProjectID)
	str("bq-dataset", &cfg.BigQuery.Dataset)
	str("bq-table", &cfg.BigQuery.Table)
	str("bq-table-prefix", &cfg.BigQuery.TablePrefix)
	str("bq-credentials", &cfg.BigQuery.CredentialsFile)
	if err == nil && flags.Lookup("events") != nil && flags.Changed("events") {
		cfg.BigQuery.Events, err = flags.GetStringSlice("events")
	}

	str("pg-host", &cfg.Postgres.Host)
	integer("pg-port", &cfg.Postgres.Port)
	str("pg-database", &cfg.Postgres.Database)
	str("pg-user", &cfg.Postgres.User)
	str("pg-table", &cfg.Postgres.Table)

	integer("batch-size", &cfg.ETL.BatchSize)
	integer("lookback-hours", &cfg.ETL.LookbackHours)
	integer("concurrency", &cfg.ETL.LoadConcurrency)

	str("checkpoint-backend", &cfg.Checkpoint.Backend)
	str("checkpoint", &cfg.Checkpoint.Path)

	str("addr", &cfg.Server.Addr)
	str("log-level", &cfg.LogLevel)

	return err
}
