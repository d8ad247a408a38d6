package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bq2pg/internal/checkpoint"
	"bq2pg/internal/etlerr"
	"bq2pg/internal/event"
	"bq2pg/internal/loader"
	"bq2pg/internal/metrics"
	"bq2pg/internal/progress"
	"bq2pg/internal/window"
)

// ErrAlreadyRunning is returned by Run and Backfill while another run holds the gate
var ErrAlreadyRunning = errors.New("already running")

// State is the coordinator's current activity
type State string

const (
	StateIdle       State = "idle"
	StatePlanning   State = "planning"
	StateExtracting State = "extracting"
	StateLoading    State = "loading"
	StateCommitting State = "committing"
	StateFailed     State = "failed"
)

// Run modes
const (
	ModeIncremental = "incremental"
	ModeBackfill    = "backfill"
)

// Extractor streams the events of a window
type Extractor interface {
	Extract(ctx context.Context, w window.Window, events []string) (event.Iterator, error)
}

// Loader upserts a stream of events
type Loader interface {
	Load(ctx context.Context, records event.Iterator, batchSize int) (loader.Result, error)
}

// SchemaManager makes sure the target table exists and is compatible
type SchemaManager interface {
	EnsureSchema(ctx context.Context) error
}

// Options tunes the incremental cycle
type Options struct {
	Lookback  time.Duration
	BatchSize int
	Events    []string
}

// Report describes one finished run
type Report struct {
	Mode       string        `json:"mode"`
	Window     window.Window `json:"window"`
	Result     loader.Result `json:"result"`
	Empty      bool          `json:"empty"`
	Checkpoint *time.Time    `json:"checkpoint,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// Status is an immutable snapshot of the run state
type Status struct {
	State         State          `json:"state"`
	Mode          string         `json:"mode,omitempty"`
	LastWindow    *window.Window `json:"last_window,omitempty"`
	LastOutcome   string         `json:"last_outcome,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	LastErrorKind etlerr.Kind    `json:"last_error_kind,omitempty"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	LastSuccessAt *time.Time     `json:"last_success_at,omitempty"`
	LastResult    *loader.Result `json:"last_result,omitempty"`
	Checkpoint    *time.Time     `json:"checkpoint,omitempty"`
	// Progress holds the counters of the in-flight or last run
	Progress *progress.Status `json:"progress,omitempty"`
}

// TriggerResult is the answer to an asynchronous trigger
type TriggerResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Coordinator runs the plan, extract, load and commit cycle. A single gate
// serialises every run regardless of who asked for it.
type Coordinator struct {
	extractor Extractor
	loader    Loader
	schema    SchemaManager
	store     checkpoint.Store
	metrics   *metrics.Collector
	tracker   *progress.Tracker
	logger    *zap.Logger
	opts      Options

	now func() time.Time

	running atomic.Bool
	status  atomic.Pointer[Status]
	wg      sync.WaitGroup
}

// NewCoordinator wires a coordinator; metrics, tracker and logger may be nil
func NewCoordinator(ex Extractor, ld Loader, sm SchemaManager, store checkpoint.Store, opts Options,
	m *metrics.Collector, tracker *progress.Tracker, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = progress.NewTracker()
	}
	c := &Coordinator{
		extractor: ex,
		loader:    ld,
		schema:    sm,
		store:     store,
		metrics:   m,
		tracker:   tracker,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
	c.status.Store(&Status{State: StateIdle})
	return c
}

// Init prepares the target table and publishes the stored checkpoint
func (c *Coordinator) Init(ctx context.Context) error {
	if err := c.schema.EnsureSchema(ctx); err != nil {
		return err
	}
	cp, err := c.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	c.update(func(s *Status) { s.Checkpoint = cp })
	if cp != nil && c.metrics != nil {
		c.metrics.SetCheckpoint(*cp)
	}
	c.logger.Info("Coordinator initialized", zap.Timep("checkpoint", cp))
	return nil
}

// Status returns the last published snapshot. It never blocks.
func (c *Coordinator) Status() Status {
	s := *c.status.Load()
	if s.LastRunAt != nil || s.State != StateIdle {
		p := c.tracker.GetStatus()
		s.Progress = &p
	}
	return s
}

// Trigger starts an incremental run in the background unless one is active
func (c *Coordinator) Trigger() TriggerResult {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Info("Trigger rejected", zap.String("reason", ErrAlreadyRunning.Error()))
		return TriggerResult{Accepted: false, Reason: ErrAlreadyRunning.Error()}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// failures are published in Status
		_, _ = c.incremental(context.Background())
	}()
	return TriggerResult{Accepted: true}
}

// Run executes one incremental cycle synchronously
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRunning
	}
	return c.incremental(ctx)
}

// Backfill loads an explicit window without touching the checkpoint
func (c *Coordinator) Backfill(ctx context.Context, w window.Window, events []string) (Report, error) {
	if w.Empty() {
		return Report{}, etlerr.Configuration("backfill", fmt.Errorf("empty window %s", w))
	}
	if !c.running.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRunning
	}
	defer c.release()

	if len(events) == 0 {
		events = c.opts.Events
	}

	start := c.now()
	c.begin(ModeBackfill, start)
	c.logger.Info("Starting backfill", zap.Stringer("window", w), zap.Strings("events", events))

	report := Report{Mode: ModeBackfill, Window: w}
	c.tracker.Start(w.Since, w.Until)
	c.update(func(s *Status) { s.LastWindow = &w })

	if err := c.schema.EnsureSchema(ctx); err != nil {
		return report, c.fail(report, start, err)
	}
	result, err := c.extractAndLoad(ctx, w, events)
	report.Result = result
	if err != nil {
		return report, c.fail(report, start, err)
	}

	report.Duration = c.now().Sub(start)
	c.succeed(report, start)
	return report, nil
}

// Wait blocks until runs started by Trigger have finished
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// incremental runs one cycle; the caller holds the gate
func (c *Coordinator) incremental(ctx context.Context) (Report, error) {
	defer c.release()

	start := c.now()
	if c.metrics != nil {
		c.metrics.RunStarted()
	}
	c.begin(ModeIncremental, start)
	report := Report{Mode: ModeIncremental}

	// planning
	cp, err := c.store.Read(ctx)
	if err != nil {
		return report, c.fail(report, start, fmt.Errorf("failed to read checkpoint: %w", err))
	}
	// the target column has microsecond precision
	now := start.UTC().Truncate(time.Microsecond)
	w := window.Plan(cp, c.opts.Lookback, now)
	report.Window = w
	c.tracker.Start(w.Since, w.Until)
	c.update(func(s *Status) {
		s.LastWindow = &w
		s.Checkpoint = cp
	})
	c.logger.Info("Window planned",
		zap.Stringer("window", w),
		zap.Bool("from_checkpoint", cp != nil),
		zap.Duration("span", w.Duration()))

	if w.Empty() {
		report.Empty = true
		c.logger.Info("Empty window, nothing to extract", zap.Stringer("window", w))
	} else {
		if err := c.schema.EnsureSchema(ctx); err != nil {
			return report, c.fail(report, start, err)
		}
		result, err := c.extractAndLoad(ctx, w, c.opts.Events)
		report.Result = result
		if err != nil {
			return report, c.fail(report, start, err)
		}
	}

	c.transition(StateCommitting)
	committed, err := c.commit(ctx, cp, w.Until)
	if err != nil {
		return report, c.fail(report, start, err)
	}
	report.Checkpoint = committed
	report.Duration = c.now().Sub(start)
	c.update(func(s *Status) { s.Checkpoint = committed })

	c.succeed(report, start)
	return report, nil
}

func (c *Coordinator) extractAndLoad(ctx context.Context, w window.Window, events []string) (loader.Result, error) {
	c.transition(StateExtracting)
	records, err := c.extractor.Extract(ctx, w, events)
	if err != nil {
		return loader.Result{}, err
	}

	c.transition(StateLoading)
	result, err := c.loader.Load(ctx, records, c.opts.BatchSize)
	if err != nil {
		return result, err
	}
	c.logger.Info("Load finished",
		zap.Stringer("window", w),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("updated", result.Updated),
		zap.Int64("skipped", result.Skipped))
	return result, nil
}

// commit persists until unless that would move the checkpoint backwards.
// It returns the checkpoint in effect afterwards.
func (c *Coordinator) commit(ctx context.Context, current *time.Time, until time.Time) (*time.Time, error) {
	if current != nil && until.Before(*current) {
		c.logger.Warn("Clock went backwards, keeping checkpoint",
			zap.Time("checkpoint", *current),
			zap.Time("until", until))
		return current, nil
	}
	if err := c.store.Write(ctx, until); err != nil {
		return current, fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if c.metrics != nil {
		c.metrics.SetCheckpoint(until)
	}
	c.logger.Info("Checkpoint advanced", zap.Timep("from", current), zap.Time("to", until))
	return &until, nil
}

func (c *Coordinator) begin(mode string, start time.Time) {
	c.update(func(s *Status) {
		s.State = StatePlanning
		s.Mode = mode
		s.LastRunAt = &start
	})
	c.logger.Info("Run started", zap.String("mode", mode), zap.String("state", string(StatePlanning)))
}

func (c *Coordinator) transition(state State) {
	c.update(func(s *Status) { s.State = state })
	c.logger.Debug("Run state changed", zap.String("state", string(state)))
}

func (c *Coordinator) fail(report Report, start time.Time, err error) error {
	kind := etlerr.KindOf(err)
	result := report.Result
	c.update(func(s *Status) {
		s.State = StateFailed
		s.LastOutcome = metrics.OutcomeFailure
		s.LastError = err.Error()
		s.LastErrorKind = kind
		s.LastResult = &result
	})
	c.logger.Error("Run failed",
		zap.String("mode", report.Mode),
		zap.Stringer("window", report.Window),
		zap.String("kind", string(kind)),
		zap.Bool("retryable", etlerr.IsRetryable(err)),
		zap.Error(err))

	if c.metrics != nil && report.Mode == ModeIncremental {
		c.metrics.RunFinished(metrics.OutcomeFailure, c.now().Sub(start))
	}
	return err
}

func (c *Coordinator) succeed(report Report, start time.Time) {
	finished := c.now()
	outcome := metrics.OutcomeSuccess
	if report.Empty {
		outcome = metrics.OutcomeEmpty
	}
	result := report.Result
	c.update(func(s *Status) {
		s.LastOutcome = outcome
		s.LastError = ""
		s.LastErrorKind = ""
		s.LastResult = &result
		s.LastSuccessAt = &finished
	})
	c.logger.Info("Run succeeded",
		zap.String("mode", report.Mode),
		zap.Stringer("window", report.Window),
		zap.Int64("records", result.Total()),
		zap.Duration("duration", finished.Sub(start)))

	if c.metrics != nil && report.Mode == ModeIncremental {
		c.metrics.RunFinished(outcome, finished.Sub(start))
	}
}

// release returns to idle and reopens the gate
func (c *Coordinator) release() {
	c.update(func(s *Status) { s.State = StateIdle })
	c.running.Store(false)
}

// update publishes a modified copy of the snapshot. Only the gate holder
// and Init write, so there is a single writer at a time.
func (c *Coordinator) update(fn func(*Status)) {
	next := *c.status.Load()
	fn(&next)
	c.status.Store(&next)
}
