package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
)

// Scheduler runs registered jobs on cron schedules with second precision.
// A job whose previous run is still in flight is skipped.
type Scheduler struct {
	cron     *cron.Cron
	registry *Registry
	log      *zap.SugaredLogger
	baseCtx  context.Context
}

// NewScheduler creates a scheduler whose jobs run with baseCtx.
func NewScheduler(registry *Registry, baseCtx context.Context) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	log := logger.Named("scheduler")
	cronLog := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		registry: registry,
		log:      log,
		baseCtx:  baseCtx,
	}
}

// Add schedules the named job. An empty spec leaves the job unscheduled.
func (s *Scheduler) Add(name, spec string) error {
	if spec == "" {
		s.log.Infow("job disabled", "job", name)
		return nil
	}
	if !s.registry.Has(name) {
		return fmt.Errorf("schedule %q: unknown job", name)
	}
	_, err := s.cron.AddFunc(spec, func() { s.run(name) })
	if err != nil {
		return fmt.Errorf("schedule %q with %q: %w", name, spec, err)
	}
	s.log.Infow("job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) run(name string) {
	result, err := s.registry.Run(s.baseCtx, name)
	if err != nil {
		s.log.Errorw("job failed", "job", name, "error", err)
		return
	}
	if result.Failed > 0 {
		s.log.Warnw("job finished with failures", "job", name, "result", result.String())
		return
	}
	s.log.Debugw("job finished", "job", name, "result", result.String())
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.log.Info("scheduler started")
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
