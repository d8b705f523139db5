// Package auth guards the arbitration and force-release surface.
//
// Admin calls carry the shared secret in the X-Admin-Secret header.
// When no secret is configured the admin surface is disabled entirely
// rather than left open.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderAdminSecret is the header carrying the admin shared secret.
const HeaderAdminSecret = "X-Admin-Secret"

// RequireAdmin returns middleware that rejects requests without the
// configured admin secret. Comparison is constant time.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin endpoints are disabled: no admin secret configured",
			})
			return
		}

		provided := c.GetHeader(HeaderAdminSecret)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid or missing admin secret",
			})
			return
		}

		c.Next()
	}
}
