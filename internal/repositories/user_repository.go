package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"passgate/internal/models"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// refresh helpers
	UpdateRefresh(ctx context.Context, userID int, token string, expiresAt time.Time) error
	RotateRefresh(ctx context.Context, oldToken, newToken string, newExpiresAt time.Time) (*models.User, error)
	ClearRefresh(ctx context.Context, userID int) error
	GetByRefreshToken(ctx context.Context, token string) (*models.User, error)
}

type userRepository struct {
	DB *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{DB: db}
}

const userColumns = `
	id, email, full_name, password_hash, role_id,
	is_verified, verified_at,
	refresh_token, refresh_expires_at, refresh_revoked,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var (
		verifiedAt sql.NullTime
		rt         sql.NullString
		rte        sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.RoleID,
		&u.IsVerified, &verifiedAt,
		&rt, &rte, &u.RefreshRevoked,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		u.VerifiedAt = &t
	}
	if rt.Valid {
		s := rt.String
		u.RefreshToken = &s
	}
	if rte.Valid {
		t := rte.Time
		u.RefreshExpiresAt = &t
	}
	return u, nil
}

func (r *userRepository) GetByID(ctx context.Context, id int) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.DB.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("user get by id: %w", err)
	}
	return u, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	u, err := scanUser(r.DB.QueryRowContext(ctx, q, email))
	if err != nil {
		return nil, fmt.Errorf("user get by email: %w", err)
	}
	return u, nil
}

func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("user exists by email: %w", err)
	}
	return exists, nil
}

func (r *userRepository) UpdateRefresh(ctx context.Context, userID int, token string, expiresAt time.Time) error {
	const q = `
		UPDATE users
		SET refresh_token = $1, refresh_expires_at = $2, refresh_revoked = FALSE, updated_at = NOW()
		WHERE id = $3
	`
	if _, err := r.DB.ExecContext(ctx, q, token, expiresAt, userID); err != nil {
		return fmt.Errorf("user update refresh: %w", err)
	}
	return nil
}

// RotateRefresh swaps a live refresh token for a new one. An unknown,
// revoked or expired token yields ErrNotFound.
func (r *userRepository) RotateRefresh(ctx context.Context, oldToken, newToken string, newExpiresAt time.Time) (*models.User, error) {
	q := `
		UPDATE users
		SET refresh_token = $1, refresh_expires_at = $2, refresh_revoked = FALSE, updated_at = NOW()
		WHERE refresh_token = $3 AND refresh_revoked = FALSE AND refresh_expires_at > NOW()
		RETURNING ` + userColumns
	u, err := scanUser(r.DB.QueryRowContext(ctx, q, newToken, newExpiresAt, oldToken))
	if err != nil {
		return nil, fmt.Errorf("user rotate refresh: %w", err)
	}
	return u, nil
}

func (r *userRepository) ClearRefresh(ctx context.Context, userID int) error {
	const q = `
		UPDATE users
		SET refresh_token = NULL, refresh_expires_at = NULL, refresh_revoked = TRUE, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.DB.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("user clear refresh: %w", err)
	}
	return nil
}

func (r *userRepository) GetByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE refresh_token = $1`
	u, err := scanUser(r.DB.QueryRowContext(ctx, q, token))
	if err != nil {
		return nil, fmt.Errorf("user get by refresh token: %w", err)
	}
	return u, nil
}
