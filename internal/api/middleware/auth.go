package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/artista/market-ledger/internal/domain"
	"github.com/artista/market-ledger/internal/identity"
	"github.com/artista/market-ledger/internal/logger"
)

// callerKey is the gin context key holding the authenticated caller
const callerKey = "auth_caller"

// Resolver validates a bearer token and returns the caller identity
type Resolver interface {
	Resolve(tokenString string) (domain.Identity, error)
}

// Auth returns a gin middleware that resolves the caller identity from
// the Authorization header. Requests without a valid bearer token for the
// deployed network never reach the ledger.
func Auth(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := authenticate(c.GetHeader("Authorization"), resolver)
		if err != nil {
			logger.Warn("Authentication failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			status := http.StatusUnauthorized
			code := "unauthorized"
			if errors.Is(err, identity.ErrNetworkMismatch) {
				status = http.StatusForbidden
				code = "forbidden"
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error": gin.H{"code": code, "message": "Authentication failed", "details": err.Error()},
			})
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

// authenticate parses the Authorization header and resolves the caller
func authenticate(authHeader string, resolver Resolver) (domain.Identity, error) {
	if authHeader == "" {
		return domain.ZeroIdentity, errors.New("missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return domain.ZeroIdentity, errors.New("invalid Authorization header format")
	}

	return resolver.Resolve(parts[1])
}

// CallerFrom returns the authenticated caller set by Auth
func CallerFrom(c *gin.Context) (domain.Identity, bool) {
	value, ok := c.Get(callerKey)
	if !ok {
		return domain.ZeroIdentity, false
	}
	caller, ok := value.(domain.Identity)
	return caller, ok
}
