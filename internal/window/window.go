package window

import (
	"fmt"
	"time"
)

// Window is the half-open extraction interval [Since, Until)
type Window struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Plan computes the next window to extract. Since is the checkpoint when one
// exists, otherwise now minus lookback. Until is always now.
func Plan(checkpoint *time.Time, lookback time.Duration, now time.Time) Window {
	now = now.UTC()
	since := now.Add(-lookback)
	if checkpoint != nil {
		since = checkpoint.UTC()
	}
	return Window{Since: since, Until: now}
}

// Empty reports whether the window contains no instants
func (w Window) Empty() bool {
	return !w.Since.Before(w.Until)
}

// Contains reports whether t lies inside [Since, Until)
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Since) && t.Before(w.Until)
}

// Duration returns the window length, zero for an empty window
func (w Window) Duration() time.Duration {
	if w.Empty() {
		return 0
	}
	return w.Until.Sub(w.Since)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Since.Format(time.RFC3339Nano), w.Until.Format(time.RFC3339Nano))
}
