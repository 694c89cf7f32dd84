package services

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"passgate/internal/authz"
	"passgate/internal/utils"
)

type AuthService interface {
	HashPassword(password string) (string, error)
	CheckPassword(hash, password string) bool
	IssueAccessToken(userID, roleID int) (string, time.Time, error)
	ParseAccessToken(raw string) (*authz.Claims, error)
	NewRefreshToken() (string, time.Time, error)
}

type AuthOptions struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

type authService struct {
	opts AuthOptions
	now  func() time.Time
}

func NewAuthService(opts AuthOptions) AuthService {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	return &authService{opts: opts, now: time.Now}
}

// HashPassword is also used for verification codes; only hashes are stored.
func (s *authService) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *authService) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (s *authService) IssueAccessToken(userID, roleID int) (string, time.Time, error) {
	return authz.SignToken(s.opts.Secret, userID, roleID, s.opts.AccessTTL, s.now())
}

func (s *authService) ParseAccessToken(raw string) (*authz.Claims, error) {
	return authz.ParseToken(s.opts.Secret, raw)
}

func (s *authService) NewRefreshToken() (string, time.Time, error) {
	tok, err := utils.NewRefreshToken(32)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, s.now().Add(s.opts.RefreshTTL), nil
}
