package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It is not durable across restarts.
type MemoryStore struct {
	mu       sync.Mutex
	value    *time.Time
	writes   int
	writeErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Read(ctx context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value == nil {
		return nil, nil
	}
	v := *s.value
	return &v, nil
}

func (s *MemoryStore) Write(ctx context.Context, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	v := ts.UTC()
	s.value = &v
	s.writes++
	return nil
}

// FailWrites makes subsequent writes return err; nil restores normal behaviour
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Writes returns the number of successful writes
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *MemoryStore) Close() error {
	return nil
}
