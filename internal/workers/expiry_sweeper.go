package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PasswordChangeExpirer is satisfied by services.PasswordChangeService.
type PasswordChangeExpirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

// RegistrationPruner is satisfied by repositories.PendingRegistrationRepository.
type RegistrationPruner interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ExpirySweeper periodically marks overdue password changes expired and
// removes sign-ups whose code ran out more than Retention ago. Keeping
// them for a while lets a late user still ask for a resend.
type ExpirySweeper struct {
	Changes   PasswordChangeExpirer
	Pending   RegistrationPruner
	Interval  time.Duration
	Retention time.Duration
	Logger    *zap.Logger

	now func() time.Time
}

// Run sweeps once immediately, then every Interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) Sweep(ctx context.Context) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}

	if s.Changes != nil {
		n, err := s.Changes.ExpireOverdue(ctx)
		if err != nil {
			s.Logger.Error("failed to expire password changes", zap.Error(err))
		} else if n > 0 {
			s.Logger.Info("password changes expired", zap.Int64("count", n))
		}
	}

	if s.Pending != nil {
		retention := s.Retention
		if retention <= 0 {
			retention = 24 * time.Hour
		}
		n, err := s.Pending.DeleteExpired(ctx, now().Add(-retention))
		if err != nil {
			s.Logger.Error("failed to prune pending registrations", zap.Error(err))
		} else if n > 0 {
			s.Logger.Info("stale pending registrations removed", zap.Int64("count", n))
		}
	}
}
