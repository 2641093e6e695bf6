// Package scheduler drives the periodic maintenance of the chat core:
// idle warnings and room expiry, stale match requests, rate-limit
// counter cleanup and the retention purge. Each job runs independently;
// a failing or panicking run is logged and the job runs again on its
// next tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"tastechat/backend/internal/config"
	"tastechat/backend/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job names.
const (
	JobCloseExpiredRooms = "close_expired_rooms"
	JobIdleWarnings      = "idle_warnings"
	JobMatchMaintenance  = "match_maintenance"
	JobRateLimitCleanup  = "ratelimit_cleanup"
	JobRetentionPurge    = "retention_purge"
)

var ErrUnknownJob = errors.New("unknown job")

// Rooms is the room registry surface the scheduler drives.
type Rooms interface {
	ProcessIdleRooms(ctx context.Context) (int, error)
	CloseExpiredRooms(ctx context.Context) (int, error)
}

// Queue is the matching queue surface the scheduler drives.
type Queue interface {
	ExpireStaleRequests(ctx context.Context) int
	RunPairingPass(ctx context.Context) int
}

// Counters is the rate limiter surface the scheduler drives.
type Counters interface {
	Cleanup(ctx context.Context) (int, error)
}

// Retention is the message store surface the scheduler drives.
type Retention interface {
	PurgeOlderThanMonths(ctx context.Context, months int) (int64, error)
}

type job struct {
	schedule string
	run      func(ctx context.Context) error
}

// Scheduler owns the background jobs. Nothing runs until Start.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]job
	timeout time.Duration
	logger  zerolog.Logger
}

// New wires the jobs to their collaborators.
func New(rooms Rooms, queue Queue, counters Counters, retention Retention, cfg config.Retention, logger zerolog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		timeout: config.DefaultJobTimeout,
		logger:  logger,
	}

	s.jobs = map[string]job{
		JobCloseExpiredRooms: {schedule: "@hourly", run: func(ctx context.Context) error {
			closed, err := rooms.CloseExpiredRooms(ctx)
			s.logger.Info().Str("job", JobCloseExpiredRooms).Int("closed", closed).Msg("expired rooms swept")
			return err
		}},
		JobIdleWarnings: {schedule: "@every 1m", run: func(ctx context.Context) error {
			warned, err := rooms.ProcessIdleRooms(ctx)
			if warned > 0 {
				s.logger.Info().Str("job", JobIdleWarnings).Int("warned", warned).Msg("idle warnings sent")
			}
			return err
		}},
		JobMatchMaintenance: {schedule: "@every 1m", run: func(ctx context.Context) error {
			expired := queue.ExpireStaleRequests(ctx)
			paired := queue.RunPairingPass(ctx)
			if expired > 0 || paired > 0 {
				s.logger.Info().Str("job", JobMatchMaintenance).Int("expired", expired).Int("paired", paired).Msg("match queue maintained")
			}
			return nil
		}},
		JobRateLimitCleanup: {schedule: "@every 30m", run: func(ctx context.Context) error {
			removed, err := counters.Cleanup(ctx)
			s.logger.Debug().Str("job", JobRateLimitCleanup).Int("removed", removed).Msg("rate limit counters cleaned")
			return err
		}},
		JobRetentionPurge: {schedule: fmt.Sprintf("%d %d * * *", cfg.PurgeMinute, cfg.PurgeHour), run: func(ctx context.Context) error {
			_, err := retention.PurgeOlderThanMonths(ctx, cfg.Months)
			return err
		}},
	}
	return s
}

// SetTimeout bounds every run. The default is config.DefaultJobTimeout.
func (s *Scheduler) SetTimeout(d time.Duration) {
	s.timeout = d
}

// Jobs returns the job names in a stable order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start registers every job with cron and starts the ticker.
func (s *Scheduler) Start() error {
	for _, name := range s.Jobs() {
		name := name
		if _, err := s.cron.AddFunc(s.jobs[name].schedule, func() {
			_ = s.Trigger(context.Background(), name)
		}); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
	}
	s.cron.Start()
	s.logger.Info().Strs("jobs", s.Jobs()).Msg("scheduler started")
	return nil
}

// Stop stops new runs and waits for running ones or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("scheduler stop timed out with jobs still running")
	}
}

// Trigger runs one job now. Errors and panics are logged, counted and
// returned; they never propagate further.
func (s *Scheduler) Trigger(ctx context.Context, name string) (err error) {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}

		elapsed := time.Since(start)
		metrics.SchedulerDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		if err != nil {
			metrics.SchedulerRuns.WithLabelValues(name, "error").Inc()
			s.logger.Error().Err(err).Str("job", name).Dur("duration", elapsed).Msg("job failed")
			return
		}
		metrics.SchedulerRuns.WithLabelValues(name, "ok").Inc()
		s.logger.Debug().Str("job", name).Dur("duration", elapsed).Msg("job finished")
	}()

	return j.run(ctx)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
