package checkpoint

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Store persists the single watermark through which events have been loaded.
//
// Read returns nil when nothing was ever written. Write must be durable
// before it returns: a Read after a crash that follows a successful Write
// observes the new value. Write failures are returned, never swallowed.
type Store interface {
	Read(ctx context.Context) (*time.Time, error)
	Write(ctx context.Context, ts time.Time) error
	Close() error
}

// Format renders a watermark in the persisted text format
func Format(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// Parse reads a persisted watermark. Besides RFC 3339 it accepts integer
// microseconds since the epoch, the format older deployments wrote.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty checkpoint value")
	}

	if isDigits(s) {
		micros, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid checkpoint value %q: %w", s, err)
		}
		return time.UnixMicro(micros).UTC(), nil
	}

	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid checkpoint value %q: %w", s, err)
	}
	return ts.UTC(), nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
