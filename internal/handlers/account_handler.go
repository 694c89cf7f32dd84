package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"passgate/internal/services"
)

type AccountHandler struct {
	sessions services.SessionService
	changes  services.PasswordChangeService
	logger   *zap.Logger
}

func NewAccountHandler(sessions services.SessionService, changes services.PasswordChangeService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{sessions: sessions, changes: changes, logger: logger}
}

// @Summary   Current user
// @Tags      Account
// @Security  BearerAuth
// @Produce   json
// @Success   200  {object}  models.User
// @Router    /api/account/me [get]
func (h *AccountHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	user, err := h.sessions.Me(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "load user", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// @Summary      Request a password change
// @Description  Stores the new password as pending and emails a confirmation code.
// @Tags         Account
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body  body      PasswordChangeRequest  true  "Current and new password"
// @Success      202   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/account/password-change [post]
func (h *AccountHandler) RequestPasswordChange(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req PasswordChangeRequest
	if !bindAndValidate(c, &req) {
		return
	}
	p, err := h.changes.Request(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		respondError(c, h.logger, "request password change", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":    "Confirmation code sent to your email.",
		"status":     p.Status,
		"expires_at": p.ExpiresAt,
	})
}

// @Summary   Confirm the pending password change
// @Tags      Account
// @Security  BearerAuth
// @Accept    json
// @Produce   json
// @Param     body  body      ConfirmCodeRequest  true  "Code"
// @Success   200   {object}  map[string]string
// @Failure   400   {object}  map[string]string
// @Failure   404   {object}  map[string]string
// @Router    /api/account/password-change/confirm [post]
func (h *AccountHandler) ConfirmPasswordChange(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req ConfirmCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.changes.Confirm(c.Request.Context(), userID, req.Code); err != nil {
		respondError(c, h.logger, "confirm password change", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed. Please log in again."})
}

// @Summary   Cancel the pending password change
// @Tags      Account
// @Security  BearerAuth
// @Success   200  {object}  map[string]string
// @Failure   404  {object}  map[string]string
// @Router    /api/account/password-change/cancel [post]
func (h *AccountHandler) CancelPasswordChange(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.changes.Cancel(c.Request.Context(), userID); err != nil {
		respondError(c, h.logger, "cancel password change", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password change cancelled"})
}

// @Summary   Latest password change
// @Tags      Account
// @Security  BearerAuth
// @Produce   json
// @Success   200  {object}  models.PendingPasswordChange
// @Failure   404  {object}  map[string]string
// @Router    /api/account/password-change [get]
func (h *AccountHandler) PasswordChangeStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	p, err := h.changes.Status(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "load password change", err)
		return
	}
	c.JSON(http.StatusOK, p)
}
