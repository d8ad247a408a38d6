package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"bq2pg/internal/etlerr"
)

// Config represents the application configuration
type Config struct {
	BigQuery   BigQueryConfig   `yaml:"bigquery"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	ETL        ETLConfig        `yaml:"etl"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Server     ServerConfig     `yaml:"server"`
	LogLevel   string           `yaml:"log_level"`
}

// BigQueryConfig identifies the source table
type BigQueryConfig struct {
	ProjectID       string        `yaml:"project_id"`
	Dataset         string        `yaml:"dataset"`
	Table           string        `yaml:"table"`
	TablePrefix     string        `yaml:"table_prefix"`
	CredentialsFile string        `yaml:"credentials_file"`
	Location        string        `yaml:"location"`
	Events          []string      `yaml:"events"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// PostgresConfig identifies the target database and table
type PostgresConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Database     string        `yaml:"database"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	SSLMode      string        `yaml:"sslmode"`
	Table        string        `yaml:"table"`
	LoadTimeout  time.Duration `yaml:"load_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

// ETLConfig tunes a run
type ETLConfig struct {
	BatchSize       int `yaml:"batch_size"`
	LookbackHours   int `yaml:"lookback_hours"`
	LoadConcurrency int `yaml:"load_concurrency"`
}

// ScheduleConfig controls the daily run. Cron, when set, replaces Hour and Minute.
type ScheduleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hour     int    `yaml:"hour"`
	Minute   int    `yaml:"minute"`
	Timezone string `yaml:"timezone"`
	Cron     string `yaml:"cron"`
}

// CheckpointConfig selects where the watermark is kept
type CheckpointConfig struct {
	Backend            string   `yaml:"backend"`
	Path               string   `yaml:"path"`
	Name               string   `yaml:"name"`
	Bucket             string   `yaml:"bucket"`
	Key                string   `yaml:"key"`
	S3                 S3Config `yaml:"s3"`
	GCSCredentialsFile string   `yaml:"gcs_credentials_file"`
}

// S3Config represents S3-compatible storage configuration
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Region    string `yaml:"region"`
}

// ServerConfig controls the HTTP surface of serve
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		LogLevel: "info",
		BigQuery: BigQueryConfig{
			Location:     "US",
			QueryTimeout: 10 * time.Minute,
		},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			SSLMode:      "disable",
			Table:        "application_events",
			LoadTimeout:  10 * time.Minute,
			MaxOpenConns: 10,
		},
		ETL: ETLConfig{
			BatchSize:       1000,
			LookbackHours:   24,
			LoadConcurrency: 1,
		},
		Schedule: ScheduleConfig{
			Enabled:  true,
			Hour:     2,
			Minute:   0,
			Timezone: "UTC",
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			Path:    "last_timestamp.txt",
			Name:    "events",
			Key:     "bq2pg/checkpoint",
		},
		Server: ServerConfig{
			Addr:            ":5000",
			MetricsEnabled:  true,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file, the
// environment and finally command line flags. Every error it returns is a
// configuration error.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, etlerr.Configuration("config", fmt.Errorf("failed to load config file: %w", err))
		}
	}

	if err := loadFromEnv(cfg, os.LookupEnv); err != nil {
		return nil, etlerr.Configuration("config", fmt.Errorf("failed to load environment: %w", err))
	}

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, etlerr.Configuration("config", fmt.Errorf("failed to load flags: %w", err))
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, etlerr.Configuration("config", fmt.Errorf("invalid configuration: %w", err))
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Lookback returns the configured lookback as a duration
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.ETL.LookbackHours) * time.Hour
}

// Redacted returns a copy with secrets masked, for printing
func (c *Config) Redacted() *Config {
	out := *c
	out.BigQuery.Events = append([]string(nil), c.BigQuery.Events...)
	if out.Postgres.Password != "" {
		out.Postgres.Password = "****"
	}
	if out.Checkpoint.S3.SecretKey != "" {
		out.Checkpoint.S3.SecretKey = "****"
	}
	return &out
}

// YAML renders the configuration as YAML
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
