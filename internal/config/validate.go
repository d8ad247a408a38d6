package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"

	"bq2pg/internal/checkpoint"
	"bq2pg/internal/loader"
	"bq2pg/internal/postgres"
	"bq2pg/internal/warehouse"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg *Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// source
	if cfg.BigQuery.ProjectID == "" {
		add("bigquery.project_id", "required")
	}
	if cfg.BigQuery.Dataset == "" {
		add("bigquery.dataset", "required")
	}
	if cfg.BigQuery.Table == "" && cfg.BigQuery.TablePrefix == "" {
		add("bigquery.table", "either table or table_prefix is required")
	}
	if cfg.BigQuery.ProjectID != "" && cfg.BigQuery.Dataset != "" {
		src := warehouse.Source{
			ProjectID:   cfg.BigQuery.ProjectID,
			Dataset:     cfg.BigQuery.Dataset,
			Table:       cfg.BigQuery.Table,
			TablePrefix: cfg.BigQuery.TablePrefix,
		}
		if src.Table != "" || src.TablePrefix != "" {
			if err := src.Validate(); err != nil {
				add("bigquery", "%v", err)
			}
		}
	}
	for _, name := range cfg.BigQuery.Events {
		if strings.TrimSpace(name) == "" {
			add("bigquery.events", "empty event name")
			break
		}
	}
	if cfg.BigQuery.QueryTimeout <= 0 {
		add("bigquery.query_timeout", "must be positive")
	}

	// target
	if cfg.Postgres.Host == "" {
		add("postgres.host", "required")
	}
	if cfg.Postgres.Port <= 0 || cfg.Postgres.Port > 65535 {
		add("postgres.port", "must be between 1 and 65535, got %d", cfg.Postgres.Port)
	}
	if cfg.Postgres.Database == "" {
		add("postgres.database", "required")
	}
	if cfg.Postgres.User == "" {
		add("postgres.user", "required")
	}
	if err := postgres.ValidateTableName(cfg.Postgres.Table); err != nil {
		add("postgres.table", "%v", err)
	}
	if cfg.Postgres.LoadTimeout <= 0 {
		add("postgres.load_timeout", "must be positive")
	}
	if cfg.Postgres.MaxOpenConns <= 0 {
		add("postgres.max_open_conns", "must be positive")
	}

	// run
	if cfg.ETL.BatchSize <= 0 || cfg.ETL.BatchSize > loader.MaxBatchSize {
		add("etl.batch_size", "must be between 1 and %d, got %d", loader.MaxBatchSize, cfg.ETL.BatchSize)
	}
	if cfg.ETL.LookbackHours <= 0 {
		add("etl.lookback_hours", "must be positive")
	}
	if cfg.ETL.LoadConcurrency <= 0 {
		add("etl.load_concurrency", "must be positive")
	} else if cfg.ETL.LoadConcurrency > cfg.Postgres.MaxOpenConns && cfg.Postgres.MaxOpenConns > 0 {
		add("etl.load_concurrency", "must not exceed postgres.max_open_conns (%d)", cfg.Postgres.MaxOpenConns)
	}

	// schedule
	if cfg.Schedule.Hour < 0 || cfg.Schedule.Hour > 23 {
		add("schedule.hour", "must be between 0 and 23, got %d", cfg.Schedule.Hour)
	}
	if cfg.Schedule.Minute < 0 || cfg.Schedule.Minute > 59 {
		add("schedule.minute", "must be between 0 and 59, got %d", cfg.Schedule.Minute)
	}
	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		add("schedule.timezone", "unknown timezone %q", cfg.Schedule.Timezone)
	}
	if cfg.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(cfg.Schedule.Cron); err != nil {
			add("schedule.cron", "%v", err)
		}
	}

	// checkpoint
	switch cfg.Checkpoint.Backend {
	case checkpoint.BackendFile, checkpoint.BackendSQLite:
		if cfg.Checkpoint.Path == "" {
			add("checkpoint.path", "required for backend %s", cfg.Checkpoint.Backend)
		}
	case checkpoint.BackendS3:
		if cfg.Checkpoint.Bucket == "" {
			add("checkpoint.bucket", "required for backend s3")
		}
		if cfg.Checkpoint.S3.Endpoint == "" {
			add("checkpoint.s3.endpoint", "required for backend s3")
		}
	case checkpoint.BackendGCS:
		if cfg.Checkpoint.Bucket == "" {
			add("checkpoint.bucket", "required for backend gcs")
		}
	case checkpoint.BackendMemory:
	default:
		add("checkpoint.backend", "must be one of file, sqlite, s3, gcs, memory, got %q", cfg.Checkpoint.Backend)
	}

	// server
	if cfg.Server.Addr == "" {
		add("server.addr", "required")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		add("server.shutdown_timeout", "must be positive")
	}

	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		add("log_level", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
