package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"bq2pg/internal/etlerr"
	"bq2pg/internal/event"
	"bq2pg/internal/metrics"
	"bq2pg/internal/postgres"
	"bq2pg/internal/progress"
	"bq2pg/internal/worker"
)

// Config contains loader configuration
type Config struct {
	Table string
	// Timeout bounds a whole Load call
	Timeout time.Duration
	// Concurrency is the number of batches written in parallel
	Concurrency int
}

// Result counts what a load did to the target table
type Result struct {
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
	// Skipped counts events that changed nothing: duplicates collapsed within
	// a batch and rows already stored with the same payload
	Skipped int64 `json:"skipped"`
}

// Total returns the number of events the load consumed
func (r Result) Total() int64 {
	return r.Inserted + r.Updated + r.Skipped
}

func (r *Result) add(o Result) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Skipped += o.Skipped
}

// Loader upserts events into PostgreSQL keyed on their natural key
type Loader struct {
	db      *sql.DB
	table   string
	timeout time.Duration
	pool    *worker.Pool
	metrics *metrics.Collector
	tracker *progress.Tracker
	logger  *zap.Logger
}

// New creates a loader; metrics and tracker may be nil
func New(db *sql.DB, cfg Config, m *metrics.Collector, tracker *progress.Tracker, logger *zap.Logger) (*Loader, error) {
	if err := postgres.ValidateTableName(cfg.Table); err != nil {
		return nil, etlerr.Configuration("loader.new", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = progress.NewTracker()
	}

	return &Loader{
		db:      db,
		table:   cfg.Table,
		timeout: cfg.Timeout,
		pool:    worker.NewPool(cfg.Concurrency, worker.NewTaskProcessor(m, logger), logger),
		metrics: m,
		tracker: tracker,
		logger:  logger,
	}, nil
}

// Load consumes records in batches of at most batchSize and upserts each
// batch with one statement. The first failing batch aborts the call and its
// error is returned; an iterator error is returned unmodified.
func (l *Loader) Load(ctx context.Context, records event.Iterator, batchSize int) (Result, error) {
	if s, ok := records.(interface{ Stop() }); ok {
		defer s.Stop()
	}

	if batchSize <= 0 {
		return Result{}, etlerr.Configuration("load", fmt.Errorf("batch size must be positive, got %d", batchSize))
	}
	if batchSize > MaxBatchSize {
		l.logger.Warn("Batch size capped",
			zap.Int("batch_size", batchSize),
			zap.Int("max_batch_size", MaxBatchSize))
		batchSize = MaxBatchSize
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	var (
		mu     sync.Mutex
		result Result
	)

	g := l.pool.Start(ctx)
	batch := make([]event.Event, 0, batchSize)
	seq := 0

	submit := func() error {
		b := batch
		batch = make([]event.Event, 0, batchSize)
		seq++
		return g.Submit(worker.Task{
			Seq:  seq,
			Size: len(b),
			Do: func(ctx context.Context) error {
				r, err := l.loadBatch(ctx, b)
				if err != nil {
					l.tracker.AddFailedBatch()
					return err
				}
				mu.Lock()
				result.add(r)
				mu.Unlock()
				l.tracker.AddBatch(r.Inserted, r.Updated, r.Skipped)
				if l.metrics != nil {
					l.metrics.AddRecords(r.Inserted, r.Updated, r.Skipped)
				}
				return nil
			},
		})
	}

	var iterErr error
	for {
		ev, err := records.Next()
		if errors.Is(err, event.Done) {
			break
		}
		if err != nil {
			iterErr = err
			break
		}

		l.tracker.AddRead(ev.Timestamp)
		batch = append(batch, ev)
		if len(batch) >= batchSize {
			if err := submit(); err != nil {
				break
			}
		}
	}

	if iterErr == nil && len(batch) > 0 {
		// a failure here is reported by Wait
		_ = submit()
	}
	if iterErr != nil {
		g.Cancel()
	}

	waitErr := g.Wait()

	mu.Lock()
	total := result
	mu.Unlock()

	switch {
	case iterErr != nil:
		return total, iterErr
	case waitErr != nil:
		return total, waitErr
	case ctx.Err() != nil:
		return total, etlerr.TransientSink("load", ctx.Err())
	}

	l.logger.Info("Load finished",
		zap.Int("batches", seq),
		zap.Int64("inserted", total.Inserted),
		zap.Int64("updated", total.Updated),
		zap.Int64("skipped", total.Skipped))

	return total, nil
}

// loadBatch writes one batch with a single statement
func (l *Loader) loadBatch(ctx context.Context, events []event.Event) (Result, error) {
	unique, _ := dedupe(events)

	rows, err := l.db.QueryContext(ctx, upsertSQL(l.table, len(unique)), upsertArgs(unique)...)
	if err != nil {
		return Result{}, batchError(ctx, err)
	}
	defer rows.Close()

	var r Result
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return Result{}, batchError(ctx, err)
		}
		if inserted {
			r.Inserted++
		} else {
			r.Updated++
		}
	}
	if err := rows.Err(); err != nil {
		return Result{}, batchError(ctx, err)
	}

	r.Skipped = int64(len(events)) - r.Inserted - r.Updated
	return r, nil
}

// drivers do not always wrap the context error when a deadline interrupts a
// statement, so it is attached before classification
func batchError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w (%w)", err, ctxErr)
	}
	return postgres.Classify("load.batch", err)
}
