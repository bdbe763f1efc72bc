// Package jobs runs background maintenance while a long-lived command is up.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Refresher recomputes cached reports.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

// NewReportRefresh schedules refresher every interval, starting immediately.
// A run that is still going when the next one is due is skipped.
func NewReportRefresh(ctx context.Context, refresher Refresher, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			start := time.Now()
			if err := refresher.Refresh(ctx); err != nil {
				logger.Warn("report refresh failed", zap.Error(err))
				return
			}
			logger.Debug("reports refreshed", zap.Duration("took", time.Since(start)))
		}),
		gocron.WithName("report-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("create report refresh job: %w", err)
	}
	return &Scheduler{scheduler: scheduler, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("starting background jobs")
	s.scheduler.Start()
}

func (s *Scheduler) Stop() error {
	s.logger.Info("stopping background jobs")
	return s.scheduler.Shutdown()
}
