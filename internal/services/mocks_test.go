package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"passgate/internal/mailer"
	"passgate/internal/models"
)

// --- Mock UserRepository ---
type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) GetByID(ctx context.Context, id int) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserRepo) UpdateRefresh(ctx context.Context, userID int, token string, expiresAt time.Time) error {
	args := m.Called(ctx, userID, token, expiresAt)
	return args.Error(0)
}

func (m *MockUserRepo) RotateRefresh(ctx context.Context, oldToken, newToken string, newExpiresAt time.Time) (*models.User, error) {
	args := m.Called(ctx, oldToken, newToken, newExpiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepo) ClearRefresh(ctx context.Context, userID int) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockUserRepo) GetByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

// --- Mock PendingRegistrationRepository ---
type MockPendingRepo struct {
	mock.Mock
}

func (m *MockPendingRepo) Upsert(ctx context.Context, p *models.PendingRegistration) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPendingRepo) GetByEmail(ctx context.Context, email string) (*models.PendingRegistration, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PendingRegistration), args.Error(1)
}

func (m *MockPendingRepo) IncrementAttempts(ctx context.Context, id int) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockPendingRepo) ExpireNow(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPendingRepo) Resend(ctx context.Context, id int, codeHash string, expiresAt time.Time) error {
	args := m.Called(ctx, id, codeHash, expiresAt)
	return args.Error(0)
}

func (m *MockPendingRepo) Promote(ctx context.Context, p *models.PendingRegistration, roleID int) (*models.User, error) {
	args := m.Called(ctx, p, roleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockPendingRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// --- Mock PendingPasswordChangeRepository ---
type MockChangeRepo struct {
	mock.Mock
}

func (m *MockChangeRepo) CreateReplacing(ctx context.Context, p *models.PendingPasswordChange) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockChangeRepo) GetLatestByUser(ctx context.Context, userID int) (*models.PendingPasswordChange, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PendingPasswordChange), args.Error(1)
}

func (m *MockChangeRepo) IncrementAttempts(ctx context.Context, id int) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockChangeRepo) Transition(ctx context.Context, id int, to models.PasswordChangeStatus) error {
	args := m.Called(ctx, id, to)
	return args.Error(0)
}

func (m *MockChangeRepo) Apply(ctx context.Context, p *models.PendingPasswordChange) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockChangeRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockChangeRepo) ListByStatus(ctx context.Context, status models.PasswordChangeStatus, limit, offset int) ([]models.PendingPasswordChange, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PendingPasswordChange), args.Error(1)
}

// --- Mock MailQueue ---
type MockMailQueue struct {
	mock.Mock
}

func (m *MockMailQueue) Enqueue(msg mailer.Message) (string, error) {
	args := m.Called(msg)
	return args.String(0), args.Error(1)
}

func newTestAuth() AuthService {
	return NewAuthService(AuthOptions{
		Secret:     []byte("test-secret"),
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
}

func mustHash(t interface{ Fatal(...any) }, auth AuthService, s string) string {
	h, err := auth.HashPassword(s)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

var nopLogger = zap.NewNop()
