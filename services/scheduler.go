// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartReconcileScheduler runs Reconcile every interval until ctx ends.
func (s *GuildService) StartReconcileScheduler(ctx context.Context, every time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			if _, err := s.Reconcile(ctx); err != nil {
				s.Log.Warn("[Scheduler] reconcile failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	sched.Start()

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			s.Log.Warn("[Scheduler] shutdown failed", zap.Error(err))
		}
	}()
	return sched, nil
}
