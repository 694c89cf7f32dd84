package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"passgate/internal/models"
	"passgate/internal/repositories"
)

type SessionService interface {
	Login(ctx context.Context, email, password string) (*models.TokenPair, *models.User, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, userID int) error
	Me(ctx context.Context, userID int) (*models.User, error)
}

type sessionService struct {
	users   repositories.UserRepository
	pending repositories.PendingRegistrationRepository
	auth    AuthService
	logger  *zap.Logger
}

func NewSessionService(
	users repositories.UserRepository,
	pending repositories.PendingRegistrationRepository,
	auth AuthService,
	logger *zap.Logger,
) SessionService {
	return &sessionService{users: users, pending: pending, auth: auth, logger: logger}
}

func (s *sessionService) Login(ctx context.Context, email, password string) (*models.TokenPair, *models.User, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, s.unknownLogin(ctx, email, password)
		}
		return nil, nil, err
	}
	if !s.auth.CheckPassword(user.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issue(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("user logged in", zap.Int("user_id", user.ID))
	return pair, user, nil
}

// unknownLogin tells a correct password on an unverified sign-up apart
// from plain bad credentials.
func (s *sessionService) unknownLogin(ctx context.Context, email, password string) error {
	if s.pending == nil {
		return ErrInvalidCredentials
	}
	p, err := s.pending.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if s.auth.CheckPassword(p.PasswordHash, password) {
		return ErrEmailNotVerified
	}
	return ErrInvalidCredentials
}

func (s *sessionService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	next, exp, err := s.auth.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("new refresh token: %w", err)
	}
	user, err := s.users.RotateRefresh(ctx, refreshToken, next, exp)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	access, accessExp, err := s.auth.IssueAccessToken(user.ID, user.RoleID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &models.TokenPair{AccessToken: access, RefreshToken: next, ExpiresAt: accessExp}, nil
}

func (s *sessionService) Logout(ctx context.Context, userID int) error {
	if err := s.users.ClearRefresh(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user logged out", zap.Int("user_id", userID))
	return nil
}

func (s *sessionService) Me(ctx context.Context, userID int) (*models.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *sessionService) issue(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	access, accessExp, err := s.auth.IssueAccessToken(user.ID, user.RoleID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := s.auth.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("new refresh token: %w", err)
	}
	if err := s.users.UpdateRefresh(ctx, user.ID, refresh, refreshExp); err != nil {
		return nil, err
	}
	return &models.TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExp}, nil
}
