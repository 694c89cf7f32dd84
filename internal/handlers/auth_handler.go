package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"passgate/internal/services"
)

type AuthHandler struct {
	registrations services.RegistrationService
	sessions      services.SessionService
	logger        *zap.Logger
}

func NewAuthHandler(registrations services.RegistrationService, sessions services.SessionService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{registrations: registrations, sessions: sessions, logger: logger}
}

// @Summary      Register
// @Description  Creates a pending registration and emails a 6-digit code. The response does not wait for the email.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      RegisterRequest  true  "Sign-up data"
// @Success      201   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      429   {object}  map[string]string
// @Router       /api/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}

	res, err := h.registrations.Register(c.Request.Context(), services.RegisterInput{
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, h.logger, "register", err)
		return
	}

	msg := "Registration successful. Check your email for the verification code."
	if !res.EmailQueued {
		msg = "Registration successful, but the verification email could not be sent right now. Request a new code."
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":      msg,
		"email":        res.Email,
		"expires_in":   int(time.Until(res.ExpiresAt).Round(time.Second).Seconds()),
		"email_queued": res.EmailQueued,
	})
}

// @Summary      Verify registration
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      VerifyRequest  true  "Email and code"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Router       /api/auth/register/verify [post]
func (h *AuthHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if !bindAndValidate(c, &req) {
		return
	}
	user, err := h.registrations.Verify(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		respondError(c, h.logger, "verify registration", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email verified", "user": user})
}

// @Summary      Resend verification code
// @Description  Always answers with the same message for unknown emails.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      ResendRequest  true  "Email"
// @Success      200   {object}  map[string]string
// @Failure      429   {object}  map[string]string
// @Router       /api/auth/register/resend [post]
func (h *AuthHandler) Resend(c *gin.Context) {
	var req ResendRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.registrations.Resend(c.Request.Context(), req.Email); err != nil {
		respondError(c, h.logger, "resend code", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If a registration is pending for this email, a new code has been sent."})
}

// @Summary      Login
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      LoginRequest  true  "Credentials"
// @Success      200   {object}  map[string]interface{}
// @Failure      401   {object}  map[string]string
// @Failure      403   {object}  map[string]string
// @Router       /api/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	pair, user, err := h.sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.logger, "login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"user":    user,
		"tokens":  pair,
	})
}

// @Summary      Refresh tokens
// @Description  Rotates the refresh token and issues a new access token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      RefreshRequest  true  "Refresh token"
// @Success      200   {object}  models.TokenPair
// @Failure      401   {object}  map[string]string
// @Router       /api/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if !bindAndValidate(c, &req) {
		return
	}
	pair, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, h.logger, "refresh token", err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// @Summary      Logout
// @Tags         Auth
// @Security     BearerAuth
// @Success      200  {object}  map[string]string
// @Router       /api/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.sessions.Logout(c.Request.Context(), userID); err != nil {
		respondError(c, h.logger, "logout", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
