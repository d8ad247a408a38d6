package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bq2pg/internal/etlerr"
	"bq2pg/internal/metrics"
)

// TaskProcessor runs a single task and records its outcome. Failed tasks are
// never retried here: the next scheduled cycle reprocesses the whole window.
type TaskProcessor struct {
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewTaskProcessor creates a processor; metrics may be nil
func NewTaskProcessor(m *metrics.Collector, logger *zap.Logger) *TaskProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskProcessor{metrics: m, logger: logger}
}

// Process runs the task and returns its error unmodified
func (p *TaskProcessor) Process(ctx context.Context, task Task) error {
	startTime := time.Now()

	if err := task.Do(ctx); err != nil {
		p.incBatch("failed")
		p.logger.Error("Batch failed",
			zap.Int("batch", task.Seq),
			zap.Int("size", task.Size),
			zap.String("kind", string(etlerr.KindOf(err))),
			zap.Error(err),
		)
		return err
	}

	p.incBatch("success")
	p.logger.Debug("Batch completed",
		zap.Int("batch", task.Seq),
		zap.Int("size", task.Size),
		zap.Duration("duration", time.Since(startTime)),
	)
	return nil
}

func (p *TaskProcessor) incBatch(status string) {
	if p.metrics != nil {
		p.metrics.IncBatch(status)
	}
}
