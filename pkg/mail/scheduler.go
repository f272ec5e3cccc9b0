package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/opsdesk/pkg/observability"
)

// DefaultSchedule polls every five minutes
const DefaultSchedule = "*/5 * * * *"

// Scheduler runs a Poller on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	poller   *Poller
	schedule string
	timeout  time.Duration

	// OnResult, when set, observes every scheduled poll
	OnResult func(res *PollResult, err error)
}

// NewScheduler creates a scheduler. Overlapping runs are skipped.
func NewScheduler(poller *Poller, schedule string, logger cron.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = cron.DiscardLogger
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %w", schedule, err)
	}

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		poller:   poller,
		schedule: schedule,
		timeout:  2 * time.Minute,
	}, nil
}

// Run polls once, then on every tick until ctx ends
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule inbox poll: %w", err)
	}

	s.runOnce(ctx)
	s.cron.Start()
	observability.FromContext(ctx).WithField("schedule", s.schedule).Info("Inbox poller started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// RunOnce performs a single poll bounded by the scheduler timeout
func (s *Scheduler) RunOnce(ctx context.Context) (*PollResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.poller.Poll(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.RunOnce(ctx)
	if s.OnResult != nil {
		s.OnResult(res, err)
		return
	}
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Inbox poll failed")
	}
}

// CronLogger adapts a Logger to the cron logging interface
func CronLogger(logger *observability.Logger) cron.Logger {
	return cronLogger{logger: logger}
}

type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
