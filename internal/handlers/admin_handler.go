package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"passgate/internal/mailer"
	"passgate/internal/models"
	"passgate/internal/services"
)

// MailStats is satisfied by *mailer.Dispatcher.
type MailStats interface {
	Stats() mailer.Stats
}

type AdminHandler struct {
	changes services.PasswordChangeService
	mail    MailStats
	logger  *zap.Logger
}

func NewAdminHandler(changes services.PasswordChangeService, mail MailStats, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{changes: changes, mail: mail, logger: logger}
}

// @Summary   List password changes by status
// @Tags      Admin
// @Security  BearerAuth
// @Produce   json
// @Param     status  query     string  false  "pending, verified, cancelled or expired"  default(pending)
// @Param     limit   query     int     false  "page size (max 100)"
// @Param     offset  query     int     false  "offset"
// @Success   200     {object}  map[string]interface{}
// @Failure   400     {object}  map[string]string
// @Router    /api/admin/password-changes [get]
func (h *AdminHandler) ListPasswordChanges(c *gin.Context) {
	status, err := models.ParsePasswordChangeStatus(c.DefaultQuery("status", string(models.PasswordChangePending)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of pending, verified, cancelled, expired"})
		return
	}
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	items, err := h.changes.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondError(c, h.logger, "list password changes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "status": status, "limit": limit, "offset": offset})
}

// @Summary   Mail queue counters
// @Tags      Admin
// @Security  BearerAuth
// @Produce   json
// @Success   200  {object}  mailer.Stats
// @Router    /api/admin/mail/stats [get]
func (h *AdminHandler) MailStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.mail.Stats())
}
