package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"passgate/internal/mailer"
	"passgate/internal/models"
	"passgate/internal/repositories"
)

type PasswordChangeService interface {
	Request(ctx context.Context, userID int, currentPassword, newPassword string) (*models.PendingPasswordChange, error)
	Confirm(ctx context.Context, userID int, code string) error
	Cancel(ctx context.Context, userID int) error
	Status(ctx context.Context, userID int) (*models.PendingPasswordChange, error)
	List(ctx context.Context, status models.PasswordChangeStatus, limit, offset int) ([]models.PendingPasswordChange, error)
	ExpireOverdue(ctx context.Context) (int64, error)
}

type PasswordChangeOptions struct {
	TTL         time.Duration
	MaxAttempts int
}

type passwordChangeService struct {
	users   repositories.UserRepository
	changes repositories.PendingPasswordChangeRepository
	auth    AuthService
	mail    MailQueue
	logger  *zap.Logger
	opts    PasswordChangeOptions
	now     func() time.Time
}

func NewPasswordChangeService(
	users repositories.UserRepository,
	changes repositories.PendingPasswordChangeRepository,
	auth AuthService,
	mail MailQueue,
	logger *zap.Logger,
	opts PasswordChangeOptions,
) PasswordChangeService {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &passwordChangeService{
		users:   users,
		changes: changes,
		auth:    auth,
		mail:    mail,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

// Request checks the current password, replaces any pending change of the
// user and emails a confirmation code. The new password only takes effect
// on Confirm.
func (s *passwordChangeService) Request(ctx context.Context, userID int, currentPassword, newPassword string) (*models.PendingPasswordChange, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !s.auth.CheckPassword(user.PasswordHash, currentPassword) {
		return nil, ErrInvalidCredentials
	}
	if s.auth.CheckPassword(user.PasswordHash, newPassword) {
		return nil, ErrSamePassword
	}

	newHash, err := s.auth.HashPassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	code, codeHash, err := newHashedCode(s.auth)
	if err != nil {
		return nil, err
	}

	p := &models.PendingPasswordChange{
		UserID:          user.ID,
		NewPasswordHash: newHash,
		CodeHash:        codeHash,
		ExpiresAt:       s.now().Add(s.opts.TTL),
	}
	err = s.changes.CreateReplacing(ctx, p)
	if errors.Is(err, repositories.ErrDuplicate) {
		// a concurrent request committed its row first; this one replaces it
		err = s.changes.CreateReplacing(ctx, p)
	}
	if err != nil {
		return nil, err
	}

	msg, renderErr := mailer.PasswordChangeEmail(user.Email, user.FullName, code, s.opts.TTL)
	queued := queueMail(s.mail, s.logger, msg, renderErr)
	s.logger.Info("password change requested",
		zap.Int("user_id", user.ID), zap.Int("change_id", p.ID), zap.Bool("email_queued", queued))
	return p, nil
}

func (s *passwordChangeService) Confirm(ctx context.Context, userID int, code string) error {
	p, err := s.pendingFor(ctx, userID)
	if err != nil {
		return err
	}

	if p.Expired(s.now()) {
		s.expire(ctx, p)
		return ErrCodeExpired
	}

	if !s.auth.CheckPassword(p.CodeHash, code) {
		attempts, err := s.changes.IncrementAttempts(ctx, p.ID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotPending) {
				return ErrInvalidTransition
			}
			return err
		}
		if attempts >= s.opts.MaxAttempts {
			s.expire(ctx, p)
			return ErrTooManyAttempts
		}
		return ErrCodeInvalid
	}

	if err := s.changes.Apply(ctx, p); err != nil {
		if errors.Is(err, repositories.ErrNotPending) {
			return ErrInvalidTransition
		}
		return err
	}
	s.logger.Info("password changed", zap.Int("user_id", userID), zap.Int("change_id", p.ID))
	return nil
}

func (s *passwordChangeService) Cancel(ctx context.Context, userID int) error {
	p, err := s.pendingFor(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.changes.Transition(ctx, p.ID, models.PasswordChangeCancelled); err != nil {
		if errors.Is(err, repositories.ErrNotPending) {
			return ErrInvalidTransition
		}
		return err
	}
	s.logger.Info("password change cancelled", zap.Int("user_id", userID), zap.Int("change_id", p.ID))
	return nil
}

// Status returns the user's most recent change in any state. An overdue
// pending row is expired on read so callers never see a stale "pending".
func (s *passwordChangeService) Status(ctx context.Context, userID int) (*models.PendingPasswordChange, error) {
	p, err := s.changes.GetLatestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNoPendingChange
		}
		return nil, err
	}
	if p.Status == models.PasswordChangePending && p.Expired(s.now()) {
		if s.expire(ctx, p) {
			p.Status = models.PasswordChangeExpired
		}
	}
	return p, nil
}

func (s *passwordChangeService) List(ctx context.Context, status models.PasswordChangeStatus, limit, offset int) ([]models.PendingPasswordChange, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.changes.ListByStatus(ctx, status, limit, offset)
}

func (s *passwordChangeService) ExpireOverdue(ctx context.Context) (int64, error) {
	return s.changes.ExpireOverdue(ctx, s.now())
}

func (s *passwordChangeService) pendingFor(ctx context.Context, userID int) (*models.PendingPasswordChange, error) {
	p, err := s.changes.GetLatestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNoPendingChange
		}
		return nil, err
	}
	if p.Status != models.PasswordChangePending {
		return nil, ErrNoPendingChange
	}
	return p, nil
}

// expire reports whether this call moved p to expired.
func (s *passwordChangeService) expire(ctx context.Context, p *models.PendingPasswordChange) bool {
	err := s.changes.Transition(ctx, p.ID, models.PasswordChangeExpired)
	if err != nil && !errors.Is(err, repositories.ErrNotPending) {
		s.logger.Error("failed to expire password change", zap.Int("change_id", p.ID), zap.Error(err))
	}
	return err == nil
}
