package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"passgate/internal/models"
)

type PendingPasswordChangeRepository interface {
	CreateReplacing(ctx context.Context, p *models.PendingPasswordChange) error
	GetLatestByUser(ctx context.Context, userID int) (*models.PendingPasswordChange, error)
	IncrementAttempts(ctx context.Context, id int) (int, error)
	Transition(ctx context.Context, id int, to models.PasswordChangeStatus) error
	Apply(ctx context.Context, p *models.PendingPasswordChange) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	ListByStatus(ctx context.Context, status models.PasswordChangeStatus, limit, offset int) ([]models.PendingPasswordChange, error)
}

type pendingPasswordChangeRepository struct {
	DB *sql.DB
}

func NewPendingPasswordChangeRepository(db *sql.DB) PendingPasswordChangeRepository {
	return &pendingPasswordChangeRepository{DB: db}
}

const pendingPasswordChangeColumns = `
	id, user_id, new_password_hash, code_hash, attempts, expires_at,
	status, verified_at, cancelled_at, created_at
`

func scanPendingPasswordChange(row rowScanner) (*models.PendingPasswordChange, error) {
	var (
		p           models.PendingPasswordChange
		status      string
		verifiedAt  sql.NullTime
		cancelledAt sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.NewPasswordHash, &p.CodeHash, &p.Attempts, &p.ExpiresAt,
		&status, &verifiedAt, &cancelledAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	// a row written outside the service could carry anything
	if p.Status, err = models.ParsePasswordChangeStatus(status); err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		p.VerifiedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		p.CancelledAt = &t
	}
	return &p, nil
}

// CreateReplacing cancels any pending change of the user and inserts the
// new one. A partial unique index keeps one pending row per user; losing
// that race to a concurrent request returns ErrDuplicate.
func (r *pendingPasswordChangeRepository) CreateReplacing(ctx context.Context, p *models.PendingPasswordChange) error {
	err := inTx(ctx, r.DB, func(tx *sql.Tx) error {
		const cancel = `
			UPDATE pending_password_changes
			SET status = 'cancelled', cancelled_at = NOW()
			WHERE user_id = $1 AND status = 'pending'
		`
		if _, err := tx.ExecContext(ctx, cancel, p.UserID); err != nil {
			return err
		}

		const insert = `
			INSERT INTO pending_password_changes (user_id, new_password_hash, code_hash, attempts, expires_at, status)
			VALUES ($1, $2, $3, 0, $4, 'pending')
			RETURNING id, created_at
		`
		return tx.QueryRowContext(ctx, insert, p.UserID, p.NewPasswordHash, p.CodeHash, p.ExpiresAt).
			Scan(&p.ID, &p.CreatedAt)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("password change create: %w", ErrDuplicate)
		}
		return fmt.Errorf("password change create: %w", err)
	}
	p.Status = models.PasswordChangePending
	p.Attempts = 0
	return nil
}

func (r *pendingPasswordChangeRepository) GetLatestByUser(ctx context.Context, userID int) (*models.PendingPasswordChange, error) {
	q := `
		SELECT ` + pendingPasswordChangeColumns + `
		FROM pending_password_changes
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	p, err := scanPendingPasswordChange(r.DB.QueryRowContext(ctx, q, userID))
	if err != nil {
		return nil, fmt.Errorf("password change latest: %w", err)
	}
	return p, nil
}

// IncrementAttempts counts a wrong code against a pending change and
// returns the new count.
func (r *pendingPasswordChangeRepository) IncrementAttempts(ctx context.Context, id int) (int, error) {
	const q = `
		UPDATE pending_password_changes
		SET attempts = attempts + 1
		WHERE id = $1 AND status = 'pending'
		RETURNING attempts
	`
	var attempts int
	if err := r.DB.QueryRowContext(ctx, q, id).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("password change increment attempts: %w", ErrNotPending)
		}
		return 0, fmt.Errorf("password change increment attempts: %w", err)
	}
	return attempts, nil
}

// Transition moves a pending row to a terminal status. The status is
// checked before any query runs and the update only matches pending
// rows, so a finished change can't be reopened or moved again.
func (r *pendingPasswordChangeRepository) Transition(ctx context.Context, id int, to models.PasswordChangeStatus) error {
	if !models.PasswordChangePending.CanTransitionTo(to) {
		return fmt.Errorf("password change transition to %q: %w", to, models.ErrInvalidStatus)
	}

	var stamp string
	switch to {
	case models.PasswordChangeVerified:
		stamp = `, verified_at = NOW()`
	case models.PasswordChangeCancelled:
		stamp = `, cancelled_at = NOW()`
	}
	q := `UPDATE pending_password_changes SET status = $1` + stamp + ` WHERE id = $2 AND status = 'pending'`

	res, err := r.DB.ExecContext(ctx, q, string(to), id)
	if err != nil {
		return fmt.Errorf("password change transition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("password change transition: %w", ErrNotPending)
	}
	return nil
}

// Apply marks the change verified, writes the new password hash and
// revokes the user's refresh token in one transaction.
func (r *pendingPasswordChangeRepository) Apply(ctx context.Context, p *models.PendingPasswordChange) error {
	err := inTx(ctx, r.DB, func(tx *sql.Tx) error {
		const verify = `
			UPDATE pending_password_changes
			SET status = 'verified', verified_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`
		res, err := tx.ExecContext(ctx, verify, p.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotPending
		}

		const updateUser = `
			UPDATE users
			SET password_hash = $1,
				refresh_token = NULL, refresh_expires_at = NULL, refresh_revoked = TRUE,
				updated_at = NOW()
			WHERE id = $2
		`
		_, err = tx.ExecContext(ctx, updateUser, p.NewPasswordHash, p.UserID)
		return err
	})
	if err != nil {
		return fmt.Errorf("password change apply: %w", err)
	}
	now := time.Now()
	p.Status = models.PasswordChangeVerified
	p.VerifiedAt = &now
	return nil
}

func (r *pendingPasswordChangeRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	const q = `
		UPDATE pending_password_changes
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1
	`
	res, err := r.DB.ExecContext(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("password change expire overdue: %w", err)
	}
	return res.RowsAffected()
}

func (r *pendingPasswordChangeRepository) ListByStatus(ctx context.Context, status models.PasswordChangeStatus, limit, offset int) ([]models.PendingPasswordChange, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("password change list %q: %w", status, models.ErrInvalidStatus)
	}
	q := `
		SELECT ` + pendingPasswordChangeColumns + `
		FROM pending_password_changes
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.DB.QueryContext(ctx, q, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("password change list: %w", err)
	}
	defer rows.Close()

	out := []models.PendingPasswordChange{}
	for rows.Next() {
		p, err := scanPendingPasswordChange(rows)
		if err != nil {
			return nil, fmt.Errorf("password change list scan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
