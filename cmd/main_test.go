package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bq2pg/internal/checkpoint"
	"bq2pg/internal/etlerr"
	"bq2pg/internal/storage"
)

func TestExitCode(t *testing.T) {
	cfgErr := etlerr.Configuration("config", errors.New("bigquery.project_id: required"))
	assert.Equal(t, 2, exitCode(cfgErr))
	assert.Equal(t, 2, exitCode(fmt.Errorf("failed to create pipeline: %w", cfgErr)))
	assert.Equal(t, 1, exitCode(etlerr.TransientSink("load", errors.New("connection refused"))))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestParseCheckpointArg(t *testing.T) {
	ts, err := parseCheckpointArg("2024-01-01T10:00:00Z")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))

	ts, err = parseCheckpointArg("2024-01-01")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	ts, err = parseCheckpointArg("20240131")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)), "eight digits are a date")

	ts, err = parseCheckpointArg("1704103200000000")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)), "longer digit runs are epoch microseconds")

	_, err = parseCheckpointArg("tomorrow")
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "run", "backfill", "schema", "checkpoint", "validate", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("batch-size"))
}

type memObjects struct {
	data     []byte
	modified time.Time
}

func (m *memObjects) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if m.data == nil {
		return nil, storage.ErrNotFound
	}
	return m.data, nil
}

func (m *memObjects) PutObject(ctx context.Context, bucket, key string, data []byte, opts storage.PutOptions) error {
	m.data = data
	return nil
}

func (m *memObjects) HeadObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	if m.data == nil {
		return storage.ObjectInfo{}, storage.ErrNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(m.data)), LastModified: m.modified}, nil
}

func TestObjectDetails(t *testing.T) {
	ctx := context.Background()

	details, err := objectDetails(ctx, checkpoint.NewMemoryStore())
	require.NoError(t, err)
	assert.Empty(t, details, "only object backends have details")

	objects := &memObjects{modified: time.Date(2024, 1, 1, 10, 0, 5, 0, time.UTC)}
	store, err := checkpoint.NewObjectStore(objects, "etl-state", "bq2pg/checkpoint", nil)
	require.NoError(t, err)

	details, err = objectDetails(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, details, "no object yet")

	require.NoError(t, store.Write(ctx, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
	details, err = objectDetails(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "Object etl-state/bq2pg/checkpoint: 21 bytes, last modified 2024-01-01T10:00:05Z", details)
}
