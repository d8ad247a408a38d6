package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
		wantErr  bool
	}{
		{name: "host and port", endpoint: "minio.local:9000", want: "minio.local:9000"},
		{name: "http url", endpoint: "http://minio.local:9000", want: "minio.local:9000"},
		{name: "https url with slash", endpoint: "https://s3.example.com/", want: "s3.example.com"},
		{name: "empty", endpoint: "", wantErr: true},
		{name: "path without scheme", endpoint: "minio.local/bucket", wantErr: true},
		{name: "url with path", endpoint: "https://s3.example.com/bucket", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cleanEndpoint(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewMinIOClientRejectsBadEndpoint(t *testing.T) {
	_, err := NewMinIOClient(Config{Endpoint: "https://s3.example.com/path"})
	assert.Error(t, err)
}
