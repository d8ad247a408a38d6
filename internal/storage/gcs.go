package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSClient implements Client for Google Cloud Storage
type GCSClient struct {
	client *gcs.Client
}

// NewGCSClient creates a GCS client. An empty credentialsFile uses Application Default Credentials.
func NewGCSClient(ctx context.Context, credentialsFile string) (*GCSClient, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSClient{client: client}, nil
}

func (c *GCSClient) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := c.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// PutObject uploads data; the new generation becomes visible when Close succeeds
func (c *GCSClient) PutObject(ctx context.Context, bucket, key string, data []byte, opts PutOptions) error {
	w := c.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = opts.Metadata

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object: %w", err)
	}
	return nil
}

func (c *GCSClient) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	attrs, err := c.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, err
	}

	return ObjectInfo{
		Key:          attrs.Name,
		Size:         attrs.Size,
		ETag:         attrs.Etag,
		LastModified: attrs.Updated,
		ContentType:  attrs.ContentType,
	}, nil
}

// Close releases the underlying client
func (c *GCSClient) Close() error {
	return c.client.Close()
}
