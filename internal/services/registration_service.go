package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"passgate/internal/authz"
	"passgate/internal/mailer"
	"passgate/internal/models"
	"passgate/internal/repositories"
	"passgate/internal/utils"
)

type RegisterInput struct {
	Email    string
	FullName string
	Password string
}

type RegisterResult struct {
	Email     string
	ExpiresAt time.Time
	// EmailQueued is false when the code could not be handed to the mail
	// queue. The registration still stands; the user can ask for a resend.
	EmailQueued bool
}

// ThrottledError carries how long the caller has to wait.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("resend throttled, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Is(target error) bool { return target == ErrResendThrottled }

type RegistrationService interface {
	Register(ctx context.Context, in RegisterInput) (*RegisterResult, error)
	Verify(ctx context.Context, email, code string) (*models.User, error)
	Resend(ctx context.Context, email string) error
}

type RegistrationOptions struct {
	CodeTTL        time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
}

type registrationService struct {
	users   repositories.UserRepository
	pending repositories.PendingRegistrationRepository
	auth    AuthService
	mail    MailQueue
	logger  *zap.Logger
	opts    RegistrationOptions
	now     func() time.Time
}

func NewRegistrationService(
	users repositories.UserRepository,
	pending repositories.PendingRegistrationRepository,
	auth AuthService,
	mail MailQueue,
	logger *zap.Logger,
	opts RegistrationOptions,
) RegistrationService {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 15 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &registrationService{
		users:   users,
		pending: pending,
		auth:    auth,
		mail:    mail,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register stores the pending sign-up and then queues the code. Once the
// row is written the call succeeds whatever happens to the email.
//
// A live pending sign-up is never overwritten: registering again only
// re-sends a code under the resend cooldown, so the password chosen first
// is the one that gets verified. An already verified email gets the same
// answer as a new one and its owner is told by email.
func (s *registrationService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := normalizeEmail(in.Email)
	now := s.now()

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		msg, renderErr := mailer.AccountExistsEmail(email)
		queued := queueMail(s.mail, s.logger, msg, renderErr)
		s.logger.Info("registration for existing account", zap.String("email", email), zap.Bool("email_queued", queued))
		return &RegisterResult{Email: email, ExpiresAt: now.Add(s.opts.CodeTTL), EmailQueued: queued}, nil
	}

	current, err := s.pending.GetByEmail(ctx, email)
	switch {
	case err == nil && !current.Expired(now):
		expiresAt, queued, err := s.reissue(ctx, current, now)
		if err != nil {
			return nil, err
		}
		s.logger.Info("registration repeated, code re-sent", zap.Int("pending_id", current.ID), zap.Bool("email_queued", queued))
		return &RegisterResult{Email: current.Email, ExpiresAt: expiresAt, EmailQueued: queued}, nil
	case err != nil && !errors.Is(err, repositories.ErrNotFound):
		return nil, err
	}

	passwordHash, err := s.auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	code, codeHash, err := newHashedCode(s.auth)
	if err != nil {
		return nil, err
	}

	p := &models.PendingRegistration{
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: passwordHash,
		CodeHash:     codeHash,
		ExpiresAt:    now.Add(s.opts.CodeTTL),
	}
	if err := s.pending.Upsert(ctx, p); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			// a concurrent sign-up for the same email won the insert
			return nil, &ThrottledError{RetryAfter: s.opts.ResendCooldown}
		}
		return nil, err
	}

	msg, renderErr := mailer.VerificationEmail(p.Email, p.FullName, code, s.opts.CodeTTL)
	queued := queueMail(s.mail, s.logger, msg, renderErr)

	s.logger.Info("registration pending verification",
		zap.Int("pending_id", p.ID), zap.String("email", p.Email), zap.Bool("email_queued", queued))
	return &RegisterResult{Email: p.Email, ExpiresAt: p.ExpiresAt, EmailQueued: queued}, nil
}

func (s *registrationService) Verify(ctx context.Context, email, code string) (*models.User, error) {
	p, err := s.pending.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrCodeInvalid
		}
		return nil, err
	}
	if p.Expired(s.now()) {
		return nil, ErrCodeExpired
	}

	if !s.auth.CheckPassword(p.CodeHash, strings.TrimSpace(code)) {
		attempts, err := s.pending.IncrementAttempts(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if attempts >= s.opts.MaxAttempts {
			if err := s.pending.ExpireNow(ctx, p.ID); err != nil {
				s.logger.Error("failed to expire pending registration", zap.Int("pending_id", p.ID), zap.Error(err))
			}
			return nil, ErrTooManyAttempts
		}
		return nil, ErrCodeInvalid
	}

	user, err := s.pending.Promote(ctx, p, authz.DefaultRole)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("registration verified", zap.Int("user_id", user.ID), zap.String("email", user.Email))
	return user, nil
}

// Resend issues a fresh code. Unknown emails succeed silently so the
// endpoint can't be used to probe for sign-ups.
func (s *registrationService) Resend(ctx context.Context, email string) error {
	p, err := s.pending.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			s.logger.Debug("resend for unknown email", zap.String("email", email))
			return nil
		}
		return err
	}

	expiresAt, queued, err := s.reissue(ctx, p, s.now())
	if err != nil {
		return err
	}
	s.logger.Info("verification code resent",
		zap.Int("pending_id", p.ID), zap.Time("expires_at", expiresAt), zap.Bool("email_queued", queued))
	return nil
}

// reissue replaces the code of a pending sign-up and mails it, unless the
// last code went out less than ResendCooldown ago. Name and password stay.
func (s *registrationService) reissue(ctx context.Context, p *models.PendingRegistration, now time.Time) (time.Time, bool, error) {
	if wait := p.LastSentAt.Add(s.opts.ResendCooldown).Sub(now); wait > 0 {
		return time.Time{}, false, &ThrottledError{RetryAfter: wait}
	}

	code, codeHash, err := newHashedCode(s.auth)
	if err != nil {
		return time.Time{}, false, err
	}
	expiresAt := now.Add(s.opts.CodeTTL)
	if err := s.pending.Resend(ctx, p.ID, codeHash, expiresAt); err != nil {
		return time.Time{}, false, err
	}

	msg, renderErr := mailer.VerificationEmail(p.Email, p.FullName, code, s.opts.CodeTTL)
	return expiresAt, queueMail(s.mail, s.logger, msg, renderErr), nil
}

func newHashedCode(auth AuthService) (code, hash string, err error) {
	code, err = utils.NewNumericCode(6)
	if err != nil {
		return "", "", fmt.Errorf("generate code: %w", err)
	}
	hash, err = auth.HashPassword(code)
	if err != nil {
		return "", "", fmt.Errorf("hash code: %w", err)
	}
	return code, hash, nil
}
