package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"arkived/pkg/archive"
)

// tokenCookieName is the cookie fallback for browser clients.
const tokenCookieName = "arkived_token"

// contextTokenName is the gin context key carrying the verified token name.
const contextTokenName = "token_name"

// requirePermission resolves the bearer credential and verifies it carries
// the required permission. All failures look identical to the caller:
// missing, unknown, revoked, and under-privileged tokens get the same 401.
func (s *Server) requirePermission(required archive.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := extractSecret(c)
		if secret != "" {
			if name := s.tokens.Verify(secret, required); name != "" {
				c.Set(contextTokenName, name)
				c.Next()
				return
			}
		}

		s.httpMetrics.RecordAuthFailure()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"message": "authentication required",
		})
	}
}

func extractSecret(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}

	if cookie, err := c.Cookie(tokenCookieName); err == nil {
		return cookie
	}
	return ""
}
