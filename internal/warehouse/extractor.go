package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"bq2pg/internal/etlerr"
	"bq2pg/internal/event"
	"bq2pg/internal/window"
)

// Config contains extractor configuration
type Config struct {
	Source
	Location        string
	CredentialsFile string
	QueryTimeout    time.Duration
}

// rowSource is the part of *bigquery.RowIterator the extractor reads from
type rowSource interface {
	Next(dst interface{}) error
}

// queryRunner submits queries; the BigQuery implementation is swapped in tests
type queryRunner interface {
	Read(ctx context.Context, q Query) (rowSource, error)
	DryRun(ctx context.Context, q Query) (int64, error)
}

// Extractor reads events from BigQuery for a time window
type Extractor struct {
	cfg    Config
	runner queryRunner
	closer func() error
	logger *zap.Logger
}

// NewExtractor creates a BigQuery-backed extractor. Without a credentials
// file Application Default Credentials are used.
func NewExtractor(ctx context.Context, cfg Config, logger *zap.Logger) (*Extractor, error) {
	if err := cfg.Source.Validate(); err != nil {
		return nil, etlerr.Configuration("warehouse.new", err)
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, etlerr.Configuration("warehouse.new", fmt.Errorf("failed to create BigQuery client: %w", err))
	}

	e := newExtractor(cfg, &bigQueryRunner{client: client, location: cfg.Location}, logger)
	e.closer = client.Close
	return e, nil
}

func newExtractor(cfg Config, runner queryRunner, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		cfg:    cfg,
		runner: runner,
		logger: logger,
	}
}

// Extract returns a lazy iterator over the events in [w.Since, w.Until),
// optionally restricted to the given event names. The query timeout bounds
// the whole iteration, not only query submission.
func (e *Extractor) Extract(ctx context.Context, w window.Window, events []string) (event.Iterator, error) {
	q, err := BuildQuery(e.cfg.Source, w, events)
	if err != nil {
		return nil, etlerr.Configuration("warehouse.extract", err)
	}

	var cancel context.CancelFunc = func() {}
	if e.cfg.QueryTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
	}

	e.logger.Info("Submitting extraction query",
		zap.String("table", e.cfg.Source.Ref()),
		zap.Time("since", w.Since),
		zap.Time("until", w.Until),
		zap.Strings("events", events))

	start := time.Now()
	rows, err := e.runner.Read(ctx, q)
	if err != nil {
		cancel()
		return nil, classify("warehouse.extract", err)
	}

	e.logger.Debug("Extraction query ready", zap.Duration("elapsed", time.Since(start)))

	return &rowIterator{rows: rows, cancel: cancel, logger: e.logger}, nil
}

// Estimate dry-runs the extraction query and returns the bytes it would scan
func (e *Extractor) Estimate(ctx context.Context, w window.Window, events []string) (int64, error) {
	q, err := BuildQuery(e.cfg.Source, w, events)
	if err != nil {
		return 0, etlerr.Configuration("warehouse.estimate", err)
	}
	n, err := e.runner.DryRun(ctx, q)
	if err != nil {
		return 0, classify("warehouse.estimate", err)
	}
	return n, nil
}

// Close releases the BigQuery client
func (e *Extractor) Close() error {
	if e.closer != nil {
		return e.closer()
	}
	return nil
}

type rowIterator struct {
	rows   rowSource
	cancel context.CancelFunc
	count  int
	done   bool
	err    error
	logger *zap.Logger
}

func (it *rowIterator) Next() (event.Event, error) {
	if it.done {
		if it.err != nil {
			return event.Event{}, it.err
		}
		return event.Event{}, event.Done
	}

	var row eventRow
	err := it.rows.Next(&row)
	if errors.Is(err, iterator.Done) {
		it.finish(nil)
		it.logger.Debug("Extraction finished", zap.Int("rows", it.count))
		return event.Event{}, event.Done
	}
	if err != nil {
		it.finish(it.classifyRowError(err))
		return event.Event{}, it.err
	}

	ev, err := row.toEvent()
	if err != nil {
		it.finish(etlerr.Data("warehouse.decode", fmt.Errorf("row %d: %w", it.count+1, err)))
		return event.Event{}, it.err
	}

	it.count++
	return ev, nil
}

// Stop releases the query context early
func (it *rowIterator) Stop() {
	it.finish(nil)
}

func (it *rowIterator) finish(err error) {
	if !it.done {
		it.done = true
		it.err = err
		it.cancel()
	}
}

// paging errors are transport problems; schema mismatches surface as plain
// errors from the row loader and are data errors
func (it *rowIterator) classifyRowError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	classified := classify("warehouse.fetch", err)
	if etlerr.KindOf(classified) == etlerr.KindUnknown {
		return etlerr.Data("warehouse.decode", err)
	}
	return classified
}

type bigQueryRunner struct {
	client   *bigquery.Client
	location string
}

func (r *bigQueryRunner) query(q Query) *bigquery.Query {
	bq := r.client.Query(q.SQL)
	bq.Parameters = q.Parameters
	if r.location != "" {
		bq.Location = r.location
	}
	return bq
}

func (r *bigQueryRunner) Read(ctx context.Context, q Query) (rowSource, error) {
	it, err := r.query(q).Read(ctx)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (r *bigQueryRunner) DryRun(ctx context.Context, q Query) (int64, error) {
	bq := r.query(q)
	bq.DryRun = true

	job, err := bq.Run(ctx)
	if err != nil {
		return 0, err
	}
	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return 0, nil
	}
	if err := status.Err(); err != nil {
		return 0, err
	}
	return status.Statistics.TotalBytesProcessed, nil
}
