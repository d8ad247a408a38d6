package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Display periodically prints the tracker state to a terminal
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewDisplay creates a new progress display writing to out
func NewDisplay(tracker *Tracker, interval time.Duration, out io.Writer) *Display {
	if out == nil {
		out = os.Stdout
	}
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      out,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop prints the final summary and waits for the loop to exit
func (d *Display) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprint(d.out, "\r"+d.line(d.tracker.GetStatus()))
		case <-d.stopCh:
			fmt.Fprintln(d.out, "\r"+d.line(d.tracker.GetStatus()))
			fmt.Fprintln(d.out, strings.Join(d.summary(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

func (d *Display) line(s Status) string {
	position := "-"
	if !s.Position.IsZero() {
		position = s.Position.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s read %d  ins %d  upd %d  skip %d  @ %s  %s",
		progressBar(percentOf(s), 30),
		s.Read, s.Inserted, s.Updated, s.Skipped,
		position, FormatRate(s.Rate))
}

func (d *Display) summary(s Status) []string {
	elapsed := time.Duration(0)
	if !s.StartTime.IsZero() {
		elapsed = time.Since(s.StartTime)
	}
	return []string{
		"",
		"Backfill finished",
		strings.Repeat("=", 40),
		fmt.Sprintf("Window:   %s .. %s", s.Since.Format(time.RFC3339), s.Until.Format(time.RFC3339)),
		fmt.Sprintf("Read:     %d", s.Read),
		fmt.Sprintf("Inserted: %d", s.Inserted),
		fmt.Sprintf("Updated:  %d", s.Updated),
		fmt.Sprintf("Skipped:  %d", s.Skipped),
		fmt.Sprintf("Batches:  %d (%d failed)", s.Batches, s.FailedBatches),
		fmt.Sprintf("Elapsed:  %s", FormatDuration(elapsed)),
		fmt.Sprintf("Rate:     %s", FormatRate(s.Rate)),
	}
}

func progressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	return fmt.Sprintf("[%s] %5.1f%%", bar, percent)
}

// IsTerminalSupported reports whether stdout is a terminal
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
