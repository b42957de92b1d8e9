package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/doctordirect/consult-relay/internal/auth"
	"github.com/doctordirect/consult-relay/internal/core"
	"github.com/doctordirect/consult-relay/internal/metrics"
)

// ContextKeyIdentity is the context key for storing the caller identity.
const ContextKeyIdentity = "identity"

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AuthMiddleware creates a middleware that validates bearer JWT tokens.
func AuthMiddleware(resolver *auth.Resolver, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug().Msg("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			return
		}

		identity, err := resolver.ResolveBearer(authHeader)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
		if identity.Role == "" {
			identity.Role = core.RolePatient
		}
		if !identity.Role.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid role"})
			return
		}

		c.Set(ContextKeyIdentity, identity)
		c.Next()
	}
}

// identityFrom returns the identity stored by AuthMiddleware.
func identityFrom(c *gin.Context) core.Identity {
	v, _ := c.Get(ContextKeyIdentity)
	id, _ := v.(core.Identity)
	return id
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

// MetricsMiddleware records request counts and latency by route template.
func MetricsMiddleware(m *metrics.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
