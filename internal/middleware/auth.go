package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"passgate/internal/authz"
)

const (
	ctxUserID    = "user_id"
	ctxRoleID    = "role_id"
	ctxViaAPIKey = "via_api_key"
)

// Auth requires a valid Bearer access token, unless an earlier APIKey
// middleware already authenticated the request.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions || c.GetBool(ctxViaAPIKey) {
			c.Next()
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
			return
		}

		claims, err := authz.ParseToken(secret, strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRoleID, claims.RoleID)
		c.Next()
	}
}
