// Package middleware provides gin middleware for the m4a-notes gateway.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/auth"
	"github.com/productivity-tools/m4a-notes/internal/config"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

// IdentityContextKey is the context key for the authenticated caller.
const IdentityContextKey ContextKey = "identity"

// AuthMiddleware resolves the bearer token into an identity. Requests without
// a valid token continue unauthenticated so handlers decide the response shape.
func AuthMiddleware(verifier auth.TokenVerifier, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth_middleware").Logger()

	return func(c *gin.Context) {
		token := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}

		id, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("rejected bearer token")
			c.Next()
			return
		}

		c.Set(string(IdentityContextKey), id)
		log.Debug().
			Str("user_id", id.UserID).
			Str("path", c.Request.URL.Path).
			Msg("authenticated request")
		c.Next()
	}
}

// GetIdentity retrieves the authenticated caller from the gin context.
// Returns nil if no caller is authenticated.
func GetIdentity(c *gin.Context) *auth.Identity {
	v, exists := c.Get(string(IdentityContextKey))
	if !exists {
		return nil
	}
	id, ok := v.(*auth.Identity)
	if !ok {
		return nil
	}
	return id
}

// UserID returns the authenticated user id or "".
func UserID(c *gin.Context) string {
	if id := GetIdentity(c); id != nil {
		return id.UserID
	}
	return ""
}

// RequireUser aborts with 401 unless AuthMiddleware stored an identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetIdentity(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// RequireInternalSecret guards server-to-server routes. An unset secret
// rejects every request.
func RequireInternalSecret(secret string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "internal_auth").Logger()

	return func(c *gin.Context) {
		if secret == "" {
			log.Error().Str("path", c.Request.URL.Path).Msg("internal secret not configured")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Configuration error"})
			return
		}
		got := c.GetHeader(config.InternalSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			log.Warn().Str("path", c.Request.URL.Path).Str("client_ip", c.ClientIP()).Msg("invalid internal secret")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
