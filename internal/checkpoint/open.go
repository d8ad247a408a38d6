package checkpoint

import (
	"context"
	"fmt"

	"bq2pg/internal/storage"
)

// Backend names accepted by Open
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Options selects and configures a checkpoint backend
type Options struct {
	Backend string
	// Path is the file for the file backend and the database for sqlite
	Path   string
	Name   string
	Bucket string
	Key    string
	S3     storage.Config
	// GCSCredentialsFile is optional; Application Default Credentials apply otherwise
	GCSCredentialsFile string
}

// Open builds the Store for opts.Backend
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(opts.Path)
	case BackendSQLite:
		return NewSQLiteStore(opts.Path, opts.Name)
	case BackendS3:
		client, err := storage.NewMinIOClient(opts.S3)
		if err != nil {
			return nil, err
		}
		return NewObjectStore(client, opts.Bucket, opts.Key, nil)
	case BackendGCS:
		client, err := storage.NewGCSClient(ctx, opts.GCSCredentialsFile)
		if err != nil {
			return nil, err
		}
		store, err := NewObjectStore(client, opts.Bucket, opts.Key, client.Close)
		if err != nil {
			client.Close()
			return nil, err
		}
		return store, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", opts.Backend)
	}
}
