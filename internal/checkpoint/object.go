package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bq2pg/internal/storage"
)

// ObjectStore keeps the watermark as a small object in a bucket.
// A completed PUT is the durability point.
type ObjectStore struct {
	client storage.Client
	bucket string
	key    string
	closer func() error
}

// NewObjectStore creates a store on top of an object storage client.
// closer, when non-nil, is called by Close.
func NewObjectStore(client storage.Client, bucket, key string, closer func() error) (*ObjectStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("checkpoint bucket cannot be empty")
	}
	if key == "" {
		return nil, fmt.Errorf("checkpoint key cannot be empty")
	}
	return &ObjectStore{client: client, bucket: bucket, key: key, closer: closer}, nil
}

func (s *ObjectStore) Read(ctx context.Context) (*time.Time, error) {
	data, err := s.client.GetObject(ctx, s.bucket, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint object %s/%s: %w", s.bucket, s.key, err)
	}

	ts, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("checkpoint object %s/%s: %w", s.bucket, s.key, err)
	}
	return &ts, nil
}

func (s *ObjectStore) Write(ctx context.Context, ts time.Time) error {
	opts := storage.PutOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{"written-at": Format(time.Now())},
	}
	if err := s.client.PutObject(ctx, s.bucket, s.key, []byte(Format(ts)+"\n"), opts); err != nil {
		return fmt.Errorf("failed to write checkpoint object %s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

// Stat returns the metadata of the checkpoint object, or nil when it has
// not been written yet.
func (s *ObjectStore) Stat(ctx context.Context) (*storage.ObjectInfo, error) {
	info, err := s.client.HeadObject(ctx, s.bucket, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat checkpoint object %s/%s: %w", s.bucket, s.key, err)
	}
	return &info, nil
}

// Location names the checkpoint object as bucket/key
func (s *ObjectStore) Location() string {
	return s.bucket + "/" + s.key
}

func (s *ObjectStore) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
