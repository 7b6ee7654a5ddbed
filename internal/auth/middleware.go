package auth

import (
	"errors"
	"net/http"
	"strings"

	"voicebridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

func bearerToken(c *gin.Context) (string, bool) {
	raw := strings.TrimSpace(c.GetHeader("Authorization"))
	tok, ok := strings.CutPrefix(raw, bearerPrefix)
	tok = strings.TrimSpace(tok)
	return tok, ok && tok != ""
}

// RequireAccessToken resolves the acting user from the bearer token. Role
// checks are left to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, m.Now())
		if err != nil {
			logger.FromGin(c).Debug("token rejected", "err", err)
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), claims.UserID, claims.Role))
		logger.Attach(c, logger.FromGin(c).With("user_id", claims.UserID))
		c.Next()
	}
}
