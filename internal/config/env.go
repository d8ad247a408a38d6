package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// loadFromEnv applies the environment variables of a container deployment
func loadFromEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("BQ_PROJECT_ID", &cfg.BigQuery.ProjectID)
	e.str("BQ_DATASET", &cfg.BigQuery.Dataset)
	e.str("BQ_TABLE", &cfg.BigQuery.Table)
	e.str("BQ_TABLE_PREFIX", &cfg.BigQuery.TablePrefix)
	e.str("BQ_CREDENTIALS_PATH", &cfg.BigQuery.CredentialsFile)
	e.str("BQ_LOCATION", &cfg.BigQuery.Location)
	e.list("ETL_EVENTS", &cfg.BigQuery.Events)
	e.duration("BQ_QUERY_TIMEOUT", &cfg.BigQuery.QueryTimeout)

	e.str("PG_HOST", &cfg.Postgres.Host)
	e.integer("PG_PORT", &cfg.Postgres.Port)
	e.str("PG_DATABASE", &cfg.Postgres.Database)
	e.str("PG_USER", &cfg.Postgres.User)
	e.str("PG_PASSWORD", &cfg.Postgres.Password)
	e.str("PG_SSLMODE", &cfg.Postgres.SSLMode)
	e.str("PG_TABLE", &cfg.Postgres.Table)
	e.duration("PG_LOAD_TIMEOUT", &cfg.Postgres.LoadTimeout)
	e.integer("PG_MAX_OPEN_CONNS", &cfg.Postgres.MaxOpenConns)

	e.integer("BATCH_SIZE", &cfg.ETL.BatchSize)
	e.integer("ETL_LOOKBACK_HOURS", &cfg.ETL.LookbackHours)
	e.integer("ETL_LOAD_CONCURRENCY", &cfg.ETL.LoadConcurrency)

	e.boolean("ETL_SCHEDULE_ENABLED", &cfg.Schedule.Enabled)
	e.integer("ETL_SCHEDULE_HOUR", &cfg.Schedule.Hour)
	e.integer("ETL_SCHEDULE_MINUTE", &cfg.Schedule.Minute)
	e.str("ETL_SCHEDULE_TZ", &cfg.Schedule.Timezone)
	e.str("ETL_SCHEDULE_CRON", &cfg.Schedule.Cron)

	e.str("CHECKPOINT_BACKEND", &cfg.Checkpoint.Backend)
	e.str("TIMESTAMP_FILE", &cfg.Checkpoint.Path)
	e.str("CHECKPOINT_NAME", &cfg.Checkpoint.Name)
	e.str("CHECKPOINT_BUCKET", &cfg.Checkpoint.Bucket)
	e.str("CHECKPOINT_KEY", &cfg.Checkpoint.Key)
	e.str("CHECKPOINT_S3_ENDPOINT", &cfg.Checkpoint.S3.Endpoint)
	e.str("CHECKPOINT_S3_ACCESS_KEY", &cfg.Checkpoint.S3.AccessKey)
	e.str("CHECKPOINT_S3_SECRET_KEY", &cfg.Checkpoint.S3.SecretKey)
	e.boolean("CHECKPOINT_S3_SECURE", &cfg.Checkpoint.S3.Secure)
	e.str("CHECKPOINT_S3_REGION", &cfg.Checkpoint.S3.Region)
	e.str("CHECKPOINT_GCS_CREDENTIALS_PATH", &cfg.Checkpoint.GCSCredentialsFile)

	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.Server.Addr = ":" + port
	}
	e.str("HTTP_ADDR", &cfg.Server.Addr)
	e.boolean("METRICS_ENABLED", &cfg.Server.MetricsEnabled)
	e.duration("HTTP_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	e.str("LOG_LEVEL", &cfg.LogLevel)

	if len(e.errs) > 0 {
		return e.errs
	}
	return nil
}

// envReader applies set, non-empty variables and collects parse failures
type envReader struct {
	lookup lookupFunc
	errs   ValidationErrors
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, ValidationError{Field: key, Message: err.Error()})
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, fmt.Errorf("invalid integer %q", v))
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, fmt.Errorf("invalid boolean %q", v))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, fmt.Errorf("invalid duration %q", v))
			return
		}
		*dst = d
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		*dst = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
