package progress

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Status is a point-in-time copy of the run counters
type Status struct {
	Read          int64     `json:"read"`
	Inserted      int64     `json:"inserted"`
	Updated       int64     `json:"updated"`
	Skipped       int64     `json:"skipped"`
	Batches       int64     `json:"batches"`
	FailedBatches int64     `json:"failed_batches"`
	StartTime     time.Time `json:"start_time"`
	// Since and Until bound the window being loaded
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
	// Position is the newest event timestamp read so far
	Position time.Time `json:"position"`
	// Rate is records read per second since StartTime
	Rate float64 `json:"rate"`
}

// Tracker counts the progress of the current run. Every method is lock-free
// so status readers never wait on the loader.
type Tracker struct {
	read          atomic.Int64
	inserted      atomic.Int64
	updated       atomic.Int64
	skipped       atomic.Int64
	batches       atomic.Int64
	failedBatches atomic.Int64

	// unix nanoseconds; zero means unset
	start    atomic.Int64
	since    atomic.Int64
	until    atomic.Int64
	position atomic.Int64
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// Start resets the counters for a run over [since, until)
func (t *Tracker) Start(since, until time.Time) {
	t.read.Store(0)
	t.inserted.Store(0)
	t.updated.Store(0)
	t.skipped.Store(0)
	t.batches.Store(0)
	t.failedBatches.Store(0)
	t.position.Store(0)
	t.since.Store(since.UnixNano())
	t.until.Store(until.UnixNano())
	t.start.Store(time.Now().UnixNano())
}

// AddRead records one event read from the warehouse
func (t *Tracker) AddRead(ts time.Time) {
	t.read.Add(1)
	n := ts.UnixNano()
	for {
		cur := t.position.Load()
		if n <= cur || t.position.CompareAndSwap(cur, n) {
			return
		}
	}
}

// AddBatch records a finished batch
func (t *Tracker) AddBatch(inserted, updated, skipped int64) {
	t.batches.Add(1)
	t.inserted.Add(inserted)
	t.updated.Add(updated)
	t.skipped.Add(skipped)
}

// AddSkipped records events dropped before reaching the database
func (t *Tracker) AddSkipped(n int64) {
	t.skipped.Add(n)
}

// AddFailedBatch records a batch that could not be written
func (t *Tracker) AddFailedBatch() {
	t.failedBatches.Add(1)
}

// GetStatus returns the current counters
func (t *Tracker) GetStatus() Status {
	s := Status{
		Read:          t.read.Load(),
		Inserted:      t.inserted.Load(),
		Updated:       t.updated.Load(),
		Skipped:       t.skipped.Load(),
		Batches:       t.batches.Load(),
		FailedBatches: t.failedBatches.Load(),
		StartTime:     fromNanos(t.start.Load()),
		Since:         fromNanos(t.since.Load()),
		Until:         fromNanos(t.until.Load()),
		Position:      fromNanos(t.position.Load()),
	}
	if !s.StartTime.IsZero() {
		if elapsed := time.Since(s.StartTime); elapsed > 0 {
			s.Rate = float64(s.Read) / elapsed.Seconds()
		}
	}
	return s
}

// GetProgressPercent estimates how much of the window has been read from
// the newest event timestamp seen; events arrive in timestamp order
func (t *Tracker) GetProgressPercent() float64 {
	return percentOf(t.GetStatus())
}

func percentOf(s Status) float64 {
	if s.Since.IsZero() || s.Position.IsZero() || !s.Since.Before(s.Until) {
		return 0
	}
	p := float64(s.Position.Sub(s.Since)) / float64(s.Until.Sub(s.Since)) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// FormatBytes formats bytes in human readable format, for query scan estimates
func FormatBytes(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	case bytes < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	case bytes < 1024*1024*1024*1024:
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1024*1024*1024))
	default:
		return fmt.Sprintf("%.1f TB", float64(bytes)/(1024*1024*1024*1024))
	}
}

// FormatRate formats a records-per-second rate
func FormatRate(perSecond float64) string {
	if perSecond < 1000 {
		return fmt.Sprintf("%.1f rec/s", perSecond)
	}
	return fmt.Sprintf("%.1fk rec/s", perSecond/1000)
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	} else {
		return fmt.Sprintf("%ds", seconds)
	}
}
