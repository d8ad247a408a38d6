package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bq2pg/internal/etlerr"
	"bq2pg/internal/metrics"
)

func TestPoolRunsAllTasks(t *testing.T) {
	pool := NewPool(4, NewTaskProcessor(nil, nil), nil)
	g := pool.Start(context.Background())

	var done atomic.Int64
	for i := 0; i < 50; i++ {
		require.NoError(t, g.Submit(Task{Seq: i, Do: func(ctx context.Context) error {
			done.Add(1)
			return nil
		}}))
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int64(50), done.Load())
}

func TestPoolSequentialKeepsOrder(t *testing.T) {
	pool := NewPool(0, NewTaskProcessor(nil, nil), nil)
	assert.Equal(t, 1, pool.Size())

	g := pool.Start(context.Background())
	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, g.Submit(Task{Seq: i, Do: func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}}))
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestPoolFirstErrorStopsSubmission(t *testing.T) {
	pool := NewPool(2, NewTaskProcessor(nil, nil), nil)
	g := pool.Start(context.Background())

	boom := etlerr.Data("load", errors.New("invalid input syntax"))
	require.NoError(t, g.Submit(Task{Seq: 0, Do: func(ctx context.Context) error { return boom }}))

	// eventually Submit reports the failure instead of blocking
	var err error
	assert.Eventually(t, func() bool {
		err = g.Submit(Task{Do: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}})
		return err != nil
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, g.Wait(), boom)
}

func TestProcessorDoesNotRetry(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewTaskProcessor(metrics.New(reg), nil)

	var calls int
	sinkErr := etlerr.TransientSink("load", errors.New("connection reset"))
	err := p.Process(context.Background(), Task{Do: func(ctx context.Context) error {
		calls++
		return sinkErr
	}})
	assert.Equal(t, sinkErr, err)
	assert.Equal(t, 1, calls)

	require.NoError(t, p.Process(context.Background(), Task{Do: func(ctx context.Context) error { return nil }}))
}

func TestGroupCancel(t *testing.T) {
	pool := NewPool(1, NewTaskProcessor(nil, nil), nil)
	g := pool.Start(context.Background())

	started := make(chan struct{})
	require.NoError(t, g.Submit(Task{Do: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	g.Cancel()
	assert.ErrorIs(t, g.Wait(), context.Canceled)
}
