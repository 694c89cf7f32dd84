package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"passgate/internal/models"
)

type PendingRegistrationRepository interface {
	Upsert(ctx context.Context, p *models.PendingRegistration) error
	GetByEmail(ctx context.Context, email string) (*models.PendingRegistration, error)
	IncrementAttempts(ctx context.Context, id int) (int, error)
	ExpireNow(ctx context.Context, id int) error
	Resend(ctx context.Context, id int, codeHash string, expiresAt time.Time) error
	Promote(ctx context.Context, p *models.PendingRegistration, roleID int) (*models.User, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type pendingRegistrationRepository struct {
	DB *sql.DB
}

func NewPendingRegistrationRepository(db *sql.DB) PendingRegistrationRepository {
	return &pendingRegistrationRepository{DB: db}
}

// Upsert stores a sign-up. An existing row for the email is only replaced
// once its code has expired; a live one yields ErrDuplicate.
func (r *pendingRegistrationRepository) Upsert(ctx context.Context, p *models.PendingRegistration) error {
	const q = `
		INSERT INTO pending_registrations (email, full_name, password_hash, code_hash, attempts, expires_at, last_sent_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW())
		ON CONFLICT (email) DO UPDATE
		SET full_name = EXCLUDED.full_name,
			password_hash = EXCLUDED.password_hash,
			code_hash = EXCLUDED.code_hash,
			attempts = 0,
			expires_at = EXCLUDED.expires_at,
			last_sent_at = NOW()
		WHERE pending_registrations.expires_at <= NOW()
		RETURNING id, last_sent_at, created_at
	`
	err := r.DB.QueryRowContext(ctx, q, p.Email, p.FullName, p.PasswordHash, p.CodeHash, p.ExpiresAt).
		Scan(&p.ID, &p.LastSentAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("pending registration upsert: %w", ErrDuplicate)
		}
		return fmt.Errorf("pending registration upsert: %w", err)
	}
	p.Attempts = 0
	return nil
}

func (r *pendingRegistrationRepository) GetByEmail(ctx context.Context, email string) (*models.PendingRegistration, error) {
	const q = `
		SELECT id, email, full_name, password_hash, code_hash, attempts, expires_at, last_sent_at, created_at
		FROM pending_registrations
		WHERE LOWER(email) = LOWER($1)
	`
	var p models.PendingRegistration
	err := r.DB.QueryRowContext(ctx, q, email).Scan(
		&p.ID, &p.Email, &p.FullName, &p.PasswordHash, &p.CodeHash,
		&p.Attempts, &p.ExpiresAt, &p.LastSentAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pending registration get: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("pending registration get: %w", err)
	}
	return &p, nil
}

// IncrementAttempts returns the new attempt count.
func (r *pendingRegistrationRepository) IncrementAttempts(ctx context.Context, id int) (int, error) {
	const q = `
		UPDATE pending_registrations
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`
	var attempts int
	if err := r.DB.QueryRowContext(ctx, q, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("pending registration increment attempts: %w", err)
	}
	return attempts, nil
}

// ExpireNow burns the current code, used once attempts run out.
func (r *pendingRegistrationRepository) ExpireNow(ctx context.Context, id int) error {
	if _, err := r.DB.ExecContext(ctx, `UPDATE pending_registrations SET expires_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pending registration expire: %w", err)
	}
	return nil
}

func (r *pendingRegistrationRepository) Resend(ctx context.Context, id int, codeHash string, expiresAt time.Time) error {
	const q = `
		UPDATE pending_registrations
		SET code_hash = $1, attempts = 0, expires_at = $2, last_sent_at = NOW()
		WHERE id = $3
	`
	res, err := r.DB.ExecContext(ctx, q, codeHash, expiresAt, id)
	if err != nil {
		return fmt.Errorf("pending registration resend: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pending registration resend: %w", ErrNotFound)
	}
	return nil
}

// Promote creates the verified user and removes the pending row in one
// transaction. A concurrent sign-up that already owns the email yields
// ErrDuplicate.
func (r *pendingRegistrationRepository) Promote(ctx context.Context, p *models.PendingRegistration, roleID int) (*models.User, error) {
	u := &models.User{
		Email:        p.Email,
		FullName:     p.FullName,
		PasswordHash: p.PasswordHash,
		RoleID:       roleID,
		IsVerified:   true,
	}
	err := inTx(ctx, r.DB, func(tx *sql.Tx) error {
		const insertUser = `
			INSERT INTO users (email, full_name, password_hash, role_id, is_verified, verified_at)
			VALUES ($1, $2, $3, $4, TRUE, NOW())
			RETURNING id, verified_at, created_at, updated_at
		`
		var verifiedAt time.Time
		if err := tx.QueryRowContext(ctx, insertUser, u.Email, u.FullName, u.PasswordHash, u.RoleID).
			Scan(&u.ID, &verifiedAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		u.VerifiedAt = &verifiedAt

		_, err := tx.ExecContext(ctx, `DELETE FROM pending_registrations WHERE id = $1`, p.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pending registration promote: %w", err)
	}
	return u, nil
}

func (r *pendingRegistrationRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM pending_registrations WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("pending registration delete expired: %w", err)
	}
	return res.RowsAffected()
}
