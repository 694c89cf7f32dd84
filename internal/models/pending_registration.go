package models

import "time"

// PendingRegistration is a sign-up awaiting email verification. Only the
// bcrypt hash of the emailed code is stored. The row becomes a User on
// successful verification.
type PendingRegistration struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	CodeHash     string    `json:"-"`
	Attempts     int       `json:"attempts"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastSentAt   time.Time `json:"last_sent_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (p *PendingRegistration) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
