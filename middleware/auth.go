package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Raas21/delay-prediction-api/services"
)

const ClaimsKey = "claims"

// RequireRole demands a bearer token carrying role. With no JWT secret
// configured every request passes.
func RequireRole(authService *services.AuthService, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authService.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenStr) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "code": "unauthorized"})
			return
		}

		claims, err := authService.Authorize(strings.TrimSpace(tokenStr), role)
		switch {
		case errors.Is(err, services.ErrForbidden):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "forbidden"})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": services.ErrInvalidToken.Error(), "code": "unauthorized"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}
