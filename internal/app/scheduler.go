/**
 * @description
 * Cron scheduler for the daily Eposh ingestion run.
 */
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const scheduledIngestTimeout = 30 * time.Minute

// DateIngester is the part of IngestService the scheduler needs.
type DateIngester interface {
	IngestDates(ctx context.Context, dates []string) (IngestReport, error)
}

// IngestLock coordinates scheduled runs across replicas.
type IngestLock interface {
	Acquire(ctx context.Context, date string) (token string, ok bool, err error)
	Release(ctx context.Context, date, token string) error
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	ingester DateIngester
	schedule string
	lock     IngestLock
	logger   *zap.Logger
	now      func() time.Time
}

// NewScheduler creates a new scheduler instance. Overlapping runs are skipped.
func NewScheduler(ingester DateIngester, schedule string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		ingester: ingester,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}
}

// WithLock makes scheduled runs claim their date in lock first.
func (s *Scheduler) WithLock(lock IngestLock) *Scheduler {
	s.lock = lock
	return s
}

// Start registers the ingestion job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.IngestToday); err != nil {
		return fmt.Errorf("failed to schedule ingestion job %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled ingestion job", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// IngestToday queues employees inducted on the current local date.
func (s *Scheduler) IngestToday() {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledIngestTimeout)
	defer cancel()

	today := s.now().Format(DateLayout)
	var token string
	if s.lock != nil {
		claimed, ok, err := s.lock.Acquire(ctx, today)
		switch {
		case err != nil:
			s.logger.Warn("ingest lock unavailable, running unguarded", zap.String("induction_date", today), zap.Error(err))
		case !ok:
			s.logger.Info("scheduled ingestion already claimed by another replica", zap.String("induction_date", today))
			return
		default:
			token = claimed
		}
	}

	report, err := s.ingester.IngestDates(ctx, []string{today})
	if err != nil {
		s.logger.Error("scheduled ingestion failed", zap.String("induction_date", today), zap.Error(err))
		// Let another replica or the next tick retry the date.
		if token != "" {
			if releaseErr := s.lock.Release(context.WithoutCancel(ctx), today, token); releaseErr != nil {
				s.logger.Warn("failed to release ingest lock", zap.String("induction_date", today), zap.Error(releaseErr))
			}
		}
		return
	}
	s.logger.Info("scheduled ingestion completed",
		zap.String("induction_date", today),
		zap.Int("pages", report.Pages),
		zap.Int("employees", report.Employees),
	)
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
