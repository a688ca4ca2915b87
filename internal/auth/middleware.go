package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

type ctxKey int

const ctxService ctxKey = iota

// WithService stores the calling collaborator's name in context.
func WithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, ctxService, service)
}

// Service returns the verified collaborator name from context.
func Service(ctx context.Context) (string, error) {
	if v, ok := ctx.Value(ctxService).(string); ok && v != "" {
		return v, nil
	}
	return "", errors.New("no service identity in context")
}

// RequireServiceToken verifies a collaborator token and injects the service
// identity into the request context.
func RequireServiceToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Request = c.Request.WithContext(WithService(c.Request.Context(), claims.Service))
		c.Set("service", claims.Service)
		c.Next()
	}
}
