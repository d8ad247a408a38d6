package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Pool manages a bounded set of workers
type Pool struct {
	size      int
	processor *TaskProcessor
	logger    *zap.Logger
}

// NewPool creates a new worker pool; size below one means one worker
func NewPool(size int, processor *TaskProcessor, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		size:      size,
		processor: processor,
		logger:    logger,
	}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

// Group is one run of the pool. The first failing task cancels the rest.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan Task
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Start launches the workers
func (p *Pool) Start(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	g := &Group{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan Task),
	}

	for i := 0; i < p.size; i++ {
		g.wg.Add(1)
		go p.worker(i, g)
	}
	return g
}

func (p *Pool) worker(id int, g *Group) {
	defer g.wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	for {
		select {
		case task, ok := <-g.tasks:
			if !ok {
				logger.Debug("Worker finished - no more tasks")
				return
			}
			if err := p.processor.Process(g.ctx, task); err != nil {
				g.fail(err)
				return
			}

		case <-g.ctx.Done():
			logger.Debug("Worker stopped - context cancelled")
			return
		}
	}
}

// Submit hands a task to the next free worker. It returns an error once the
// group has failed or its context is done.
func (g *Group) Submit(task Task) error {
	select {
	case g.tasks <- task:
		return nil
	case <-g.ctx.Done():
		if err := g.Err(); err != nil {
			return err
		}
		return g.ctx.Err()
	}
}

// Wait closes the task queue, waits for the workers and returns the first
// task error
func (g *Group) Wait() error {
	close(g.tasks)
	g.wg.Wait()
	g.cancel()
	return g.Err()
}

// Cancel stops the workers; tasks in progress see a cancelled context
func (g *Group) Cancel() {
	g.cancel()
}

// Err returns the first task error, if any
func (g *Group) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *Group) fail(err error) {
	g.mu.Lock()
	if g.err == nil {
		g.err = err
	}
	g.mu.Unlock()
	g.cancel()
}
