package services

import "errors"

var (
	ErrResendThrottled = errors.New("resend throttled")
	ErrTooManyAttempts = errors.New("too many attempts")
	ErrCodeExpired     = errors.New("code expired")
	ErrCodeInvalid     = errors.New("code invalid")

	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrUserNotFound        = errors.New("user not found")

	ErrNoPendingChange   = errors.New("no pending password change")
	ErrInvalidTransition = errors.New("password change is not pending")
	ErrSamePassword      = errors.New("new password must differ from the current one")
	ErrEmailNotVerified  = errors.New("email not verified")
)
