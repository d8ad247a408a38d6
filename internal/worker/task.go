package worker

import "context"

// Task is one unit of work for the pool, typically a loader batch
type Task struct {
	Seq  int
	Size int
	Do   func(ctx context.Context) error
}
