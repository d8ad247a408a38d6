package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlan(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t0 := time.Date(2023, 12, 31, 22, 30, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	tests := []struct {
		name       string
		checkpoint *time.Time
		lookback   time.Duration
		wantSince  time.Time
		wantEmpty  bool
	}{
		{"no checkpoint uses lookback", nil, 24 * time.Hour, now.Add(-24 * time.Hour), false},
		{"no checkpoint two hours", nil, 2 * time.Hour, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), false},
		{"checkpoint wins over lookback", &t0, 24 * time.Hour, t0, false},
		{"zero lookback is empty", nil, 0, now, true},
		{"checkpoint equals now is empty", &now, 24 * time.Hour, now, true},
		{"checkpoint in the future is empty", &future, 24 * time.Hour, future, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Plan(tt.checkpoint, tt.lookback, now)
			assert.Equal(t, tt.wantSince, w.Since)
			assert.Equal(t, now, w.Until)
			assert.Equal(t, tt.wantEmpty, w.Empty())
		})
	}
}

func TestPlanNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	now := time.Date(2024, 1, 1, 11, 0, 0, 0, loc)

	w := Plan(nil, time.Hour, now)

	assert.Equal(t, time.UTC, w.Until.Location())
	assert.True(t, w.Until.Equal(now))
	assert.Equal(t, "[2024-01-01T09:00:00Z, 2024-01-01T10:00:00Z)", w.String())
}

func TestContainsIsHalfOpen(t *testing.T) {
	since := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	w := Window{Since: since, Until: since.Add(2 * time.Hour)}

	assert.True(t, w.Contains(since))
	assert.True(t, w.Contains(since.Add(time.Hour)))
	assert.False(t, w.Contains(w.Until))
	assert.False(t, w.Contains(since.Add(-time.Nanosecond)))
	assert.Equal(t, 2*time.Hour, w.Duration())
	assert.Zero(t, Window{Since: w.Until, Until: since}.Duration())
}
