package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// FileStore keeps the watermark as a plain timestamp in a text file
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at path
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint path cannot be empty")
	}
	return &FileStore{path: path}, nil
}

// Path returns the checkpoint file location
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Read(ctx context.Context) (*time.Time, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	ts, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("checkpoint file %s: %w", s.path, err)
	}
	return &ts, nil
}

func (s *FileStore) Write(ctx context.Context, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := WriteAtomic(s.path, []byte(Format(ts)+"\n")); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
