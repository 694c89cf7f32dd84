package handlers

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// bcrypt ignores input past 72 bytes.
const (
	minPasswordLen = 8
	maxPasswordLen = 72
)

var (
	emailRules = []validation.Rule{
		validation.Required.Error("email is required"),
		is.Email.Error("valid email is required"),
	}
	codeRules = []validation.Rule{
		validation.Required.Error("code is required"),
		validation.Length(6, 6).Error("code must be 6 digits"),
		is.Digit.Error("code must be 6 digits"),
	}
)

func passwordRules(field string) []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(field + " is required"),
		validation.Length(minPasswordLen, maxPasswordLen).Error(field + " must be 8 to 72 characters"),
		validation.By(func(v interface{}) error {
			if s, _ := v.(string); len(s) > maxPasswordLen {
				return errors.New(field + " is too long")
			}
			return nil
		}),
	}
}

type RegisterRequest struct {
	Email    string `json:"email" example:"ann@example.com"`
	FullName string `json:"full_name" example:"Ann Lee"`
	Password string `json:"password" example:"correct horse"`
}

func (r *RegisterRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, emailRules...),
		validation.Field(&r.FullName, validation.Length(0, 100)),
		validation.Field(&r.Password, passwordRules("password")...),
	)
}

type VerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code" example:"042917"`
}

func (r *VerifyRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, emailRules...),
		validation.Field(&r.Code, codeRules...),
	)
}

type ResendRequest struct {
	Email string `json:"email"`
}

func (r *ResendRequest) Validate() error {
	return validation.ValidateStruct(r, validation.Field(&r.Email, emailRules...))
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, emailRules...),
		validation.Field(&r.Password, validation.Required.Error("password is required")),
	)
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r *RefreshRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RefreshToken, validation.Required.Error("refresh_token is required")),
	)
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r *PasswordChangeRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CurrentPassword, validation.Required.Error("current_password is required")),
		validation.Field(&r.NewPassword, passwordRules("new_password")...),
	)
}

type ConfirmCodeRequest struct {
	Code string `json:"code" example:"042917"`
}

func (r *ConfirmCodeRequest) Validate() error {
	return validation.ValidateStruct(r, validation.Field(&r.Code, codeRules...))
}
