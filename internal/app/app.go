package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"bq2pg/internal/checkpoint"
	"bq2pg/internal/config"
	"bq2pg/internal/etlerr"
	"bq2pg/internal/loader"
	"bq2pg/internal/metrics"
	"bq2pg/internal/postgres"
	"bq2pg/internal/progress"
	"bq2pg/internal/schema"
	"bq2pg/internal/storage"
	"bq2pg/internal/warehouse"
	"bq2pg/internal/window"
)

// App holds every long-lived dependency of the pipeline
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *sql.DB
	extractor   *warehouse.Extractor
	checkpoint  checkpoint.Store
	schema      *schema.Manager
	metrics     *metrics.Collector
	tracker     *progress.Tracker
	coordinator *Coordinator
}

// New connects to PostgreSQL, BigQuery and the checkpoint backend and wires
// the coordinator
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	var err error

	// Create checkpoint store
	a.checkpoint, err = OpenCheckpoint(ctx, a.cfg)
	if err != nil {
		return err
	}

	a.db, err = postgres.Open(ctx, PostgresConfig(a.cfg))
	if err != nil {
		return err
	}

	a.extractor, err = warehouse.NewExtractor(ctx, ExtractorConfig(a.cfg), a.logger)
	if err != nil {
		return err
	}

	a.schema, err = schema.NewManager(a.db, a.cfg.Postgres.Table, a.logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(registry)
	a.tracker = progress.NewTracker()

	ld, err := loader.New(a.db, loader.Config{
		Table:       a.cfg.Postgres.Table,
		Timeout:     a.cfg.Postgres.LoadTimeout,
		Concurrency: a.cfg.ETL.LoadConcurrency,
	}, a.metrics, a.tracker, a.logger)
	if err != nil {
		return err
	}

	a.coordinator = NewCoordinator(a.extractor, ld, a.schema, a.checkpoint, Options{
		Lookback:  a.cfg.Lookback(),
		BatchSize: a.cfg.ETL.BatchSize,
		Events:    a.cfg.BigQuery.Events,
	}, a.metrics, a.tracker, a.logger)

	a.logger.Info("Pipeline ready",
		zap.String("source", ExtractorConfig(a.cfg).Ref()),
		zap.String("target", a.cfg.Postgres.Table),
		zap.String("checkpoint_backend", a.cfg.Checkpoint.Backend),
		zap.Int("batch_size", a.cfg.ETL.BatchSize),
		zap.Int("load_concurrency", a.cfg.ETL.LoadConcurrency),
	)
	return nil
}

// Coordinator returns the run coordinator
func (a *App) Coordinator() *Coordinator {
	return a.coordinator
}

// Metrics returns the collector backing /metrics
func (a *App) Metrics() *metrics.Collector {
	return a.metrics
}

// Tracker returns the progress counters shared by every run
func (a *App) Tracker() *progress.Tracker {
	return a.tracker
}

// PingContext checks the target database
func (a *App) PingContext(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return postgres.Classify("ping", err)
	}
	return nil
}

// Estimate returns the bytes BigQuery would scan for w
func (a *App) Estimate(ctx context.Context, w window.Window, events []string) (int64, error) {
	if len(events) == 0 {
		events = a.cfg.BigQuery.Events
	}
	return a.extractor.Estimate(ctx, w, events)
}

// Close cleans up resources
func (a *App) Close() error {
	var errs []error
	if a.coordinator != nil {
		a.coordinator.Wait()
	}
	if a.extractor != nil {
		errs = append(errs, a.extractor.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.checkpoint != nil {
		errs = append(errs, a.checkpoint.Close())
	}
	return errors.Join(errs...)
}

// PostgresConfig maps the configuration onto connection settings
func PostgresConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		Host:         cfg.Postgres.Host,
		Port:         cfg.Postgres.Port,
		Database:     cfg.Postgres.Database,
		User:         cfg.Postgres.User,
		Password:     cfg.Postgres.Password,
		SSLMode:      cfg.Postgres.SSLMode,
		MaxOpenConns: cfg.Postgres.MaxOpenConns,
	}
}

// ExtractorConfig maps the configuration onto the BigQuery extractor
func ExtractorConfig(cfg *config.Config) warehouse.Config {
	return warehouse.Config{
		Source: warehouse.Source{
			ProjectID:   cfg.BigQuery.ProjectID,
			Dataset:     cfg.BigQuery.Dataset,
			Table:       cfg.BigQuery.Table,
			TablePrefix: cfg.BigQuery.TablePrefix,
		},
		Location:        cfg.BigQuery.Location,
		CredentialsFile: cfg.BigQuery.CredentialsFile,
		QueryTimeout:    cfg.BigQuery.QueryTimeout,
	}
}

// OpenCheckpoint opens the configured checkpoint backend on its own, for
// commands that only inspect or repair the watermark
func OpenCheckpoint(ctx context.Context, cfg *config.Config) (checkpoint.Store, error) {
	store, err := checkpoint.Open(ctx, checkpoint.Options{
		Backend: cfg.Checkpoint.Backend,
		Path:    cfg.Checkpoint.Path,
		Name:    cfg.Checkpoint.Name,
		Bucket:  cfg.Checkpoint.Bucket,
		Key:     cfg.Checkpoint.Key,
		S3: storage.Config{
			Endpoint:  cfg.Checkpoint.S3.Endpoint,
			AccessKey: cfg.Checkpoint.S3.AccessKey,
			SecretKey: cfg.Checkpoint.S3.SecretKey,
			Secure:    cfg.Checkpoint.S3.Secure,
			Region:    cfg.Checkpoint.S3.Region,
		},
		GCSCredentialsFile: cfg.Checkpoint.GCSCredentialsFile,
	})
	if err != nil {
		return nil, etlerr.Configuration("checkpoint.open", fmt.Errorf("failed to open checkpoint store: %w", err))
	}
	return store, nil
}
