package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bq2pg/internal/etlerr"
	"bq2pg/internal/window"
)

var dateLayouts = []string{"2006-01-02", "2006/01/02", "20060102", "02-01-2006", "02/01/2006"}

// ParseDate accepts YYYY-MM-DD and a few common variants, as UTC midnight
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date format: %q (use YYYY-MM-DD)", s)
}

// BackfillRange turns the backfill command line into a window. Either days
// is positive, or from is set and to optionally names the last day included.
// The window never extends past now.
func BackfillRange(from, to string, days int, now time.Time) (window.Window, error) {
	now = now.UTC().Truncate(time.Microsecond)
	today := now.Truncate(24 * time.Hour)

	var w window.Window
	switch {
	case days > 0 && from != "":
		return w, etlerr.Configuration("backfill", fmt.Errorf("--days and --from are mutually exclusive"))
	case days > 0:
		w = window.Window{Since: today.AddDate(0, 0, -days), Until: now}
	case from != "":
		since, err := ParseDate(from)
		if err != nil {
			return w, etlerr.Configuration("backfill", err)
		}
		until := now
		if to != "" {
			last, err := ParseDate(to)
			if err != nil {
				return w, etlerr.Configuration("backfill", err)
			}
			if end := last.AddDate(0, 0, 1); end.Before(now) {
				until = end
			}
		}
		w = window.Window{Since: since, Until: until}
	default:
		return w, etlerr.Configuration("backfill", fmt.Errorf("either --days or --from is required"))
	}

	if w.Empty() {
		return w, etlerr.Configuration("backfill", fmt.Errorf("empty range %s", w))
	}
	return w, nil
}

// Backfill loads an explicit range through the incremental pipeline without
// reading or advancing the checkpoint
func (a *App) Backfill(ctx context.Context, w window.Window, events []string) (Report, error) {
	return a.coordinator.Backfill(ctx, w, events)
}
