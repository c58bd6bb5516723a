// README: Auth middleware; verifies the bearer token and stores the caller identity.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"foodbridge/internal/infra"
	"foodbridge/internal/log"
	"foodbridge/internal/types"
)

const (
	callerUIDKey  = "caller_uid"
	callerRoleKey = "caller_role"
)

// Auth rejects requests without a valid "Bearer <token>" header. A missing
// or unknown role claim leaves the caller with an empty role, which no
// lifecycle capability accepts.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "code": "unauthorized"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			log.Debug(c.Request.Context(), "token rejected", log.Err("error", err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": "unauthorized"})
			return
		}
		c.Set(callerUIDKey, token.UID)
		if s, ok := token.Claims["role"].(string); ok {
			if role, ok := types.ParseRole(s); ok {
				c.Set(callerRoleKey, string(role))
			}
		}
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(callerUIDKey)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(callerRoleKey)
}

// Caller is the verified actor for core operations.
func Caller(c *gin.Context) types.Actor {
	return types.Actor{ID: types.ID(CallerUID(c)), Role: types.Role(CallerRole(c))}
}
