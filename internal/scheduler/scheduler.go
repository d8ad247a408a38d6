package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"bq2pg/internal/app"
)

// Target is what the scheduler fires
type Target interface {
	Trigger() app.TriggerResult
}

// Config selects when the daily run fires. Cron, when set, replaces Hour
// and Minute.
type Config struct {
	Hour     int
	Minute   int
	Timezone string
	Cron     string
}

// Expression returns the cron expression for cfg, including its timezone
func (cfg Config) Expression() string {
	expr := cfg.Cron
	if expr == "" {
		expr = fmt.Sprintf("%d %d * * *", cfg.Minute, cfg.Hour)
	}
	if strings.HasPrefix(expr, "CRON_TZ=") || strings.HasPrefix(expr, "TZ=") {
		return expr
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return "CRON_TZ=" + tz + " " + expr
}

// Scheduler triggers incremental runs on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	expr     string
	target   Target
	logger   *zap.Logger
}

// New parses the schedule; nothing fires until Start
func New(cfg Config, target Target, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	expr := cfg.Expression()
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}

	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		schedule: schedule,
		expr:     expr,
		target:   target,
		logger:   logger,
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.fire))
	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("schedule", s.expr),
		zap.Time("next_run", s.Next(time.Now())))
}

// Stop prevents further runs. The returned context is done once a firing
// in progress has returned; the run it triggered is not waited for.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next returns the first firing after t
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Expression returns the parsed schedule
func (s *Scheduler) Expression() string {
	return s.expr
}

func (s *Scheduler) fire() {
	res := s.target.Trigger()
	if !res.Accepted {
		s.logger.Warn("Scheduled run skipped", zap.String("reason", res.Reason))
		return
	}
	s.logger.Info("Scheduled run triggered", zap.Time("next_run", s.Next(time.Now())))
}

// cronLogger routes the cron library's logging through zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
