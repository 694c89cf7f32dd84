package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"passgate/internal/authz"
	"passgate/internal/mailer"
	"passgate/internal/models"
	"passgate/internal/repositories"
)

var codeInText = regexp.MustCompile(`code is (\d{6})`)

type regFixture struct {
	users   *MockUserRepo
	pending *MockPendingRepo
	mail    *MockMailQueue
	auth    AuthService
	svc     *registrationService
}

func newRegFixture() *regFixture {
	f := &regFixture{
		users:   new(MockUserRepo),
		pending: new(MockPendingRepo),
		mail:    new(MockMailQueue),
		auth:    newTestAuth(),
	}
	f.svc = NewRegistrationService(f.users, f.pending, f.auth, f.mail, nopLogger, RegistrationOptions{
		CodeTTL:        15 * time.Minute,
		ResendCooldown: time.Minute,
		MaxAttempts:    3,
	}).(*registrationService)
	return f
}

func TestRegister_Success(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()

	var stored *models.PendingRegistration
	f.users.On("ExistsByEmail", ctx, "ann@example.com").Return(false, nil)
	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(nil, repositories.ErrNotFound)
	f.pending.On("Upsert", ctx, mock.AnythingOfType("*models.PendingRegistration")).
		Run(func(args mock.Arguments) {
			stored = args.Get(1).(*models.PendingRegistration)
			stored.ID = 42
		}).Return(nil)

	var sent mailer.Message
	f.mail.On("Enqueue", mock.AnythingOfType("mailer.Message")).
		Run(func(args mock.Arguments) { sent = args.Get(0).(mailer.Message) }).
		Return("job-1", nil)

	res, err := f.svc.Register(ctx, RegisterInput{Email: "  Ann@Example.com ", FullName: "Ann", Password: "correct horse"})
	require.NoError(t, err)
	assert.True(t, res.EmailQueued)
	assert.Equal(t, "ann@example.com", res.Email)

	require.NotNil(t, stored)
	assert.NotEqual(t, "correct horse", stored.PasswordHash)
	assert.True(t, f.auth.CheckPassword(stored.PasswordHash, "correct horse"))

	assert.Equal(t, "ann@example.com", sent.To)
	m := codeInText.FindStringSubmatch(sent.Text)
	require.Len(t, m, 2)
	assert.True(t, f.auth.CheckPassword(stored.CodeHash, m[1]), "emailed code must match the stored hash")

	f.users.AssertExpectations(t)
	f.pending.AssertExpectations(t)
	f.mail.AssertExpectations(t)
}

// A committed registration succeeds whatever happens to the email.
func TestRegister_SucceedsWhenEmailCannotBeQueued(t *testing.T) {
	for name, queueErr := range map[string]error{
		"queue full": mailer.ErrQueueFull,
		"closed":     mailer.ErrDispatcherClosed,
	} {
		t.Run(name, func(t *testing.T) {
			f := newRegFixture()
			ctx := context.Background()
			f.users.On("ExistsByEmail", ctx, "ann@example.com").Return(false, nil)
			f.pending.On("GetByEmail", ctx, "ann@example.com").Return(nil, repositories.ErrNotFound)
			f.pending.On("Upsert", ctx, mock.Anything).Return(nil)
			f.mail.On("Enqueue", mock.Anything).Return("", queueErr)

			res, err := f.svc.Register(ctx, RegisterInput{Email: "ann@example.com", Password: "correct horse"})
			require.NoError(t, err)
			assert.False(t, res.EmailQueued)
		})
	}
}

func TestRegister_SucceedsWithoutMailQueue(t *testing.T) {
	f := newRegFixture()
	f.svc.mail = nil
	ctx := context.Background()
	f.users.On("ExistsByEmail", ctx, "ann@example.com").Return(false, nil)
	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(nil, repositories.ErrNotFound)
	f.pending.On("Upsert", ctx, mock.Anything).Return(nil)

	res, err := f.svc.Register(ctx, RegisterInput{Email: "ann@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.False(t, res.EmailQueued)
}

// A verified email gets the same answer as a new one; its owner is told
// by email and nothing is stored.
func TestRegister_ExistingAccountLooksLikeNewSignup(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	f.users.On("ExistsByEmail", ctx, "ann@example.com").Return(true, nil)

	var sent mailer.Message
	f.mail.On("Enqueue", mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(0).(mailer.Message) }).
		Return("job-1", nil)

	res, err := f.svc.Register(ctx, RegisterInput{Email: "ann@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", res.Email)
	assert.True(t, res.EmailQueued)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), res.ExpiresAt, 5*time.Second)

	assert.Equal(t, "ann@example.com", sent.To)
	assert.Contains(t, sent.Text, "already registered")
	assert.Empty(t, codeInText.FindStringSubmatch(sent.Text))
	f.pending.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
	f.pending.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

// Registering again while a code is live must not replace the password
// the first sign-up chose, and must respect the resend cooldown.
func TestRegister_RepeatWithinCooldownIsThrottled(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	p := pendingWithCode(t, f.auth, "123456", time.Now().Add(10*time.Minute))
	p.LastSentAt = time.Now().Add(-5 * time.Second)
	f.users.On("ExistsByEmail", ctx, "ann@example.com").Return(false, nil)
	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(p, nil)

	_, err := f.svc.Register(ctx, RegisterInput{Email: "ann@example.com", Password: "attacker-pass"})
	require.ErrorIs(t, err, ErrResendThrottled)

	f.pending.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	f.pending.AssertNotCalled(t, "Resend", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.mail.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func TestRegister_RepeatAfterCooldownResendsWithoutTouchingPassword(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	p := pendingWithCode(t, f.auth, "123456", time.Now().Add(10*time.Minute))
	originalHash := p.PasswordHash
	f.users.On("ExistsByEmail", ctx, "ann@example.com").Return(false, nil)
	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(p, nil)

	var newCodeHash string
	f.pending.On("Resend", ctx, 7, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) { newCodeHash = args.String(2) }).Return(nil)
	var sent mailer.Message
	f.mail.On("Enqueue", mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(0).(mailer.Message) }).
		Return("job-2", nil)

	res, err := f.svc.Register(ctx, RegisterInput{Email: "ann@example.com", Password: "attacker-pass"})
	require.NoError(t, err)
	assert.True(t, res.EmailQueued)

	f.pending.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	assert.Equal(t, originalHash, p.PasswordHash)
	assert.True(t, f.auth.CheckPassword(p.PasswordHash, "correct horse"))

	m := codeInText.FindStringSubmatch(sent.Text)
	require.Len(t, m, 2)
	assert.True(t, f.auth.CheckPassword(newCodeHash, m[1]))
}

func TestRegister_ExpiredPendingIsReplaced(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	p := pendingWithCode(t, f.auth, "123456", time.Now().Add(-time.Minute))
	f.users.On("ExistsByEmail", ctx, "ann@example.com").Return(false, nil)
	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(p, nil)

	var stored *models.PendingRegistration
	f.pending.On("Upsert", ctx, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*models.PendingRegistration) }).
		Return(nil)
	f.mail.On("Enqueue", mock.Anything).Return("job-3", nil)

	_, err := f.svc.Register(ctx, RegisterInput{Email: "ann@example.com", Password: "fresh password"})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, f.auth.CheckPassword(stored.PasswordHash, "fresh password"))
}

func TestRegister_ConcurrentSignupIsThrottled(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	f.users.On("ExistsByEmail", ctx, "ann@example.com").Return(false, nil)
	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(nil, repositories.ErrNotFound)
	f.pending.On("Upsert", ctx, mock.Anything).Return(fmt.Errorf("pending registration upsert: %w", repositories.ErrDuplicate))

	_, err := f.svc.Register(ctx, RegisterInput{Email: "ann@example.com", Password: "attacker-pass"})
	var te *ThrottledError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, time.Minute, te.RetryAfter)
	f.mail.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func TestRegister_StoreFailureSendsNothing(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	f.users.On("ExistsByEmail", ctx, "ann@example.com").Return(false, nil)
	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(nil, repositories.ErrNotFound)
	f.pending.On("Upsert", ctx, mock.Anything).Return(errors.New("db down"))

	_, err := f.svc.Register(ctx, RegisterInput{Email: "ann@example.com", Password: "correct horse"})
	assert.Error(t, err)
	f.mail.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func pendingWithCode(t *testing.T, auth AuthService, code string, expiresAt time.Time) *models.PendingRegistration {
	return &models.PendingRegistration{
		ID:           7,
		Email:        "ann@example.com",
		FullName:     "Ann",
		PasswordHash: mustHash(t, auth, "correct horse"),
		CodeHash:     mustHash(t, auth, code),
		ExpiresAt:    expiresAt,
		LastSentAt:   time.Now().Add(-5 * time.Minute),
	}
}

func TestVerify_Success(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	p := pendingWithCode(t, f.auth, "123456", time.Now().Add(time.Minute))

	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(p, nil)
	f.pending.On("Promote", ctx, p, authz.DefaultRole).Return(&models.User{ID: 9, Email: p.Email, IsVerified: true}, nil)

	u, err := f.svc.Verify(ctx, "ANN@example.com", " 123456 ")
	require.NoError(t, err)
	assert.Equal(t, 9, u.ID)
	f.pending.AssertExpectations(t)
}

func TestVerify_WrongCode(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	p := pendingWithCode(t, f.auth, "123456", time.Now().Add(time.Minute))

	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(p, nil)
	f.pending.On("IncrementAttempts", ctx, 7).Return(1, nil).Once()

	_, err := f.svc.Verify(ctx, "ann@example.com", "000000")
	assert.ErrorIs(t, err, ErrCodeInvalid)
	f.pending.AssertNotCalled(t, "ExpireNow", mock.Anything, mock.Anything)
}

func TestVerify_TooManyAttemptsBurnsCode(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	p := pendingWithCode(t, f.auth, "123456", time.Now().Add(time.Minute))

	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(p, nil)
	f.pending.On("IncrementAttempts", ctx, 7).Return(3, nil)
	f.pending.On("ExpireNow", ctx, 7).Return(nil)

	_, err := f.svc.Verify(ctx, "ann@example.com", "000000")
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	f.pending.AssertExpectations(t)
}

func TestVerify_Expired(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	p := pendingWithCode(t, f.auth, "123456", time.Now().Add(-time.Second))
	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(p, nil)

	_, err := f.svc.Verify(ctx, "ann@example.com", "123456")
	assert.ErrorIs(t, err, ErrCodeExpired)
	f.pending.AssertNotCalled(t, "Promote", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerify_UnknownEmailAndRace(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	f.pending.On("GetByEmail", ctx, "ghost@example.com").Return(nil, repositories.ErrNotFound)

	_, err := f.svc.Verify(ctx, "ghost@example.com", "123456")
	assert.ErrorIs(t, err, ErrCodeInvalid)

	p := pendingWithCode(t, f.auth, "123456", time.Now().Add(time.Minute))
	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(p, nil)
	f.pending.On("Promote", ctx, p, authz.DefaultRole).Return(nil, repositories.ErrDuplicate)

	_, err = f.svc.Verify(ctx, "ann@example.com", "123456")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestResend_Throttled(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	p := pendingWithCode(t, f.auth, "123456", time.Now().Add(time.Minute))
	p.LastSentAt = time.Now().Add(-10 * time.Second)
	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(p, nil)

	err := f.svc.Resend(ctx, "ann@example.com")
	require.ErrorIs(t, err, ErrResendThrottled)

	var te *ThrottledError
	require.True(t, errors.As(err, &te))
	assert.Greater(t, te.RetryAfter, 40*time.Second)
	f.pending.AssertNotCalled(t, "Resend", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResend_UnknownEmailIsSilent(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	f.pending.On("GetByEmail", ctx, "ghost@example.com").Return(nil, repositories.ErrNotFound)

	assert.NoError(t, f.svc.Resend(ctx, "ghost@example.com"))
	f.mail.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func TestResend_IssuesNewCode(t *testing.T) {
	f := newRegFixture()
	ctx := context.Background()
	p := pendingWithCode(t, f.auth, "123456", time.Now().Add(-time.Minute))
	f.pending.On("GetByEmail", ctx, "ann@example.com").Return(p, nil)

	var newHash string
	f.pending.On("Resend", ctx, 7, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) { newHash = args.String(2) }).Return(nil)

	var sent mailer.Message
	f.mail.On("Enqueue", mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(0).(mailer.Message) }).
		Return("", mailer.ErrQueueFull)

	// a full queue is still a success for the caller
	require.NoError(t, f.svc.Resend(ctx, "ann@example.com"))

	m := codeInText.FindStringSubmatch(sent.Text)
	require.Len(t, m, 2)
	assert.True(t, f.auth.CheckPassword(newHash, m[1]))
}
