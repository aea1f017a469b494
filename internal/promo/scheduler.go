package promo

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Broadcast runs a full promo fan-out and reports its outcome.
type Broadcast interface {
	Broadcast(ctx context.Context) Result
}

// Scheduler periodically consults the promo settings row and fires a
// broadcast when the configured send window is open. The last-sent date is
// written back only after a broadcast actually went out, so a failed run is
// retried on the next tick of the same day.
type Scheduler struct {
	settings    *SettingsService
	broadcaster Broadcast
	logger      *zap.Logger
	location    *time.Location
	now         func() time.Time
}

func NewScheduler(
	settings *SettingsService,
	broadcaster Broadcast,
	location *time.Location,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		settings:    settings,
		broadcaster: broadcaster,
		logger:      logger,
		location:    location,
		now:         time.Now,
	}
}

// Run ticks at the given interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Promo scheduler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Promo scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates the send gate once and broadcasts when it is open.
func (s *Scheduler) Tick(ctx context.Context) {
	const operation = "promo.Scheduler.Tick"

	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Error("Failed to read promo settings", zap.String("op", operation), zap.Error(err))
		return
	}

	now := s.now().In(s.location)
	if !s.settings.ShouldSendNow(settings, now) {
		return
	}

	result := s.broadcaster.Broadcast(ctx)
	if !result.Status.Sent() {
		s.logger.Info("Promo broadcast did not go out",
			zap.String("status", string(result.Status)))
		return
	}

	if err := s.settings.UpdateLastSent(ctx, now); err != nil {
		s.logger.Error("Failed to record promo last-sent date",
			zap.String("op", operation), zap.Error(err))
	}
}
