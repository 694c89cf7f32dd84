package models

import (
	"errors"
	"fmt"
	"time"
)

type PasswordChangeStatus string

const (
	PasswordChangePending   PasswordChangeStatus = "pending"
	PasswordChangeVerified  PasswordChangeStatus = "verified"
	PasswordChangeCancelled PasswordChangeStatus = "cancelled"
	PasswordChangeExpired   PasswordChangeStatus = "expired"
)

var ErrInvalidStatus = errors.New("invalid password change status")

// The database column has no CHECK constraint; this is the only gate.
func ParsePasswordChangeStatus(s string) (PasswordChangeStatus, error) {
	st := PasswordChangeStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s PasswordChangeStatus) Valid() bool {
	switch s {
	case PasswordChangePending, PasswordChangeVerified, PasswordChangeCancelled, PasswordChangeExpired:
		return true
	}
	return false
}

func (s PasswordChangeStatus) IsTerminal() bool {
	return s == PasswordChangeVerified || s == PasswordChangeCancelled || s == PasswordChangeExpired
}

// CanTransitionTo allows only pending -> verified | cancelled | expired.
func (s PasswordChangeStatus) CanTransitionTo(next PasswordChangeStatus) bool {
	return s == PasswordChangePending && next.Valid() && next.IsTerminal()
}

type PendingPasswordChange struct {
	ID              int                  `json:"id"`
	UserID          int                  `json:"user_id"`
	NewPasswordHash string               `json:"-"`
	CodeHash        string               `json:"-"`
	Attempts        int                  `json:"attempts"`
	ExpiresAt       time.Time            `json:"expires_at"`
	Status          PasswordChangeStatus `json:"status"`
	VerifiedAt      *time.Time           `json:"verified_at,omitempty"`
	CancelledAt     *time.Time           `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

func (p *PendingPasswordChange) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
