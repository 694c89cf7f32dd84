package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"passgate/internal/authz"
)

const APIKeyHeader = "X-API-Key"

// APIKey lets trusted backends call admin routes with a static key from
// API_KEYS. A request carrying a matching key is treated as admin; any
// other request falls through to Auth.
func APIKey(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if got != "" && matchKey(keys, got) {
			c.Set(ctxViaAPIKey, true)
			c.Set(ctxUserID, 0)
			c.Set(ctxRoleID, authz.RoleAdmin)
		}
		c.Next()
	}
}

func matchKey(keys []string, got string) bool {
	ok := false
	for _, k := range keys {
		if k != "" && subtle.ConstantTimeCompare([]byte(k), []byte(got)) == 1 {
			ok = true
		}
	}
	return ok
}
