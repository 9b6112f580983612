package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"twarchive/pkg/config"
	errs "twarchive/pkg/errors"
	"twarchive/pkg/logger"
)

// Task is one scheduled run. runID correlates its log lines.
type Task func(ctx context.Context, runID string) error

// Scheduler runs a task on a cron schedule, never overlapping itself.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
	logger   logger.Logger

	mu      sync.Mutex
	entryID cron.EntryID
	ctx     context.Context
}

// New creates a scheduler in the configured timezone. An empty timezone
// means UTC.
func New(cfg config.ScheduleConfig, log logger.Logger) (*Scheduler, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeValidation, err, "unknown timezone %q", tz)
	}

	log = logger.OrDefault(log)
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		location: loc,
		logger:   log,
		ctx:      context.Background(),
	}, nil
}

// Schedule installs task under a standard five-field spec or a descriptor
// such as "@hourly", replacing any previous task.
func (s *Scheduler) Schedule(spec string, task Task) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return errs.Wrap(errs.ErrorTypeValidation, err, "invalid cron spec %q", spec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(task) })
	if err != nil {
		return fmt.Errorf("adding cron entry: %w", err)
	}
	s.entryID = id

	s.logger.InfoWithFields("harvest scheduled", map[string]interface{}{
		"cron":     spec,
		"timezone": s.location.String(),
	})
	return nil
}

func (s *Scheduler) run(task Task) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	runID := uuid.NewString()
	log := s.logger.WithField("run_id", runID)
	start := time.Now()
	log.Info("scheduled run started")

	if err := task(ctx, runID); err != nil {
		log.WithError(err).ErrorWithFields("scheduled run failed", map[string]interface{}{
			"duration": time.Since(start).String(),
		})
		return
	}
	log.InfoWithFields("scheduled run finished", map[string]interface{}{
		"duration": time.Since(start).String(),
	})
}

// Next returns the next activation time, or the zero time if nothing is
// scheduled or the scheduler is not running.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Run starts the scheduler and blocks until ctx is done. Tasks receive ctx;
// Run returns once any in-flight task has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	return nil
}

// cronLogger adapts the cron library's logger to ours.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.DebugWithFields("cron: "+msg, fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).ErrorWithFields("cron: "+msg, fields(keysAndValues))
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
