package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ErlanBelekov/durably/internal/httpapi/token"
)

const errUnauthorized = "Unauthorized"

// AdminAuth requires a valid HS256 admin bearer token, guarding POST
// /trigger, POST /retry, POST /cancel, DELETE /run, and GET /runs/subscribe.
func AdminAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		if err := token.VerifyAdmin(secret, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		c.Next()
	}
}

// SubscribeAuth requires a valid subscribe token in the ?token= query
// parameter, scoped to the runId also present in the query string.
func SubscribeAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Query("runId")
		raw := c.Query("token")
		if runID == "" || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		if err := token.VerifySubscribe(secret, raw, runID); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		c.Next()
	}
}
