// Package worker runs periodic maintenance next to the API.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type NotificationCleaner interface {
	CleanupExpired(ctx context.Context, batchSize int) (int, error)
}

type InvitationExpirer interface {
	ExpireOld(ctx context.Context) (int, error)
}

// CleanupWorker deletes expired notifications and expires lapsed
// invitations on every tick.
type CleanupWorker struct {
	Notifications NotificationCleaner
	Invitations   InvitationExpirer
	Interval      time.Duration
	BatchSize     int
	Logger        zerolog.Logger
}

func NewCleanupWorker(notifications NotificationCleaner, invitations InvitationExpirer, interval time.Duration, batchSize int, logger zerolog.Logger) *CleanupWorker {
	return &CleanupWorker{
		Notifications: notifications,
		Invitations:   invitations,
		Interval:      interval,
		BatchSize:     batchSize,
		Logger:        logger.With().Str("component", "cleanup").Logger(),
	}
}

// Start blocks until ctx is cancelled.
func (w *CleanupWorker) Start(ctx context.Context) {
	w.Logger.Info().Dur("interval", w.Interval).Msg("cleanup worker started")

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info().Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass. Failures are logged and the next tick
// tries again.
func (w *CleanupWorker) RunOnce(ctx context.Context) {
	if w.Notifications != nil {
		deleted, err := w.Notifications.CleanupExpired(ctx, w.BatchSize)
		if err != nil {
			w.Logger.Error().Err(err).Msg("cleanup expired notifications")
		} else if deleted > 0 {
			w.Logger.Info().Int("deleted", deleted).Msg("deleted expired notifications")
		}
	}

	if w.Invitations != nil {
		expired, err := w.Invitations.ExpireOld(ctx)
		if err != nil {
			w.Logger.Error().Err(err).Msg("expire old invitations")
		} else if expired > 0 {
			w.Logger.Info().Int("expired", expired).Msg("expired invitations")
		}
	}
}
