// Package middleware provides the gin middleware for the Sunder API.
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/pkg/logger"
	"go.uber.org/zap"
)

const (
	headerAPIKey = "X-API-Key"
	headerAuth   = "Authorization"
	bearerPrefix = "Bearer "

	// ContextSubject holds the verified token subject.
	ContextSubject = "auth_subject"
	// ContextAdminActor holds who passed the admin gate: "api-key" or a subject.
	ContextAdminActor = "admin_actor"

	// APIKeyActor is recorded as the actor for API-key admin requests.
	APIKeyActor = "api-key"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Status:    status,
		Error:     http.StatusText(status),
		Message:   msg,
		Timestamp: time.Now(),
		Path:      c.Request.URL.Path,
	})
}

// APIKeyAuth checks admin API keys.
type APIKeyAuth struct {
	apiKeys map[string]bool
}

// NewAPIKeyAuth creates a new API key checker. Empty keys are ignored and
// with no keys configured every request is rejected.
func NewAPIKeyAuth(apiKeys []string) *APIKeyAuth {
	keyMap := make(map[string]bool, len(apiKeys))
	for _, key := range apiKeys {
		if key != "" {
			keyMap[key] = true
		}
	}
	return &APIKeyAuth{apiKeys: keyMap}
}

// Valid reports whether key is a configured API key. Comparison is constant
// time.
func (a *APIKeyAuth) Valid(key string) bool {
	if key == "" || len(a.apiKeys) == 0 {
		return false
	}
	for validKey := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid X-API-Key header.
func (a *APIKeyAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Valid(c.GetHeader(headerAPIKey)) {
			logger.Log.Warn("Unauthorized request - invalid or missing API key",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.String("remoteAddr", c.ClientIP()),
			)
			abort(c, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		c.Set(ContextAdminActor, APIKeyActor)
		c.Next()
	}
}

// TokenVerifier verifies HS256 bearer tokens issued by the identity provider.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier. An empty secret rejects every token.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify checks the token and returns its subject.
func (v *TokenVerifier) Verify(raw string) (string, error) {
	if len(v.secret) == 0 || raw == "" {
		return "", ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader(headerAuth)
	if !strings.HasPrefix(h, bearerPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix)), true
}

// RequireSubject rejects requests without a valid bearer token.
func (v *TokenVerifier) RequireSubject() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		sub, err := v.Verify(raw)
		if err != nil {
			logger.Log.Debug("Rejected bearer token", zap.Error(err))
			abort(c, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		c.Set(ContextSubject, sub)
		c.Next()
	}
}

// OptionalSubject sets the subject when a bearer token is present. A present
// but invalid token is still rejected.
func (v *TokenVerifier) OptionalSubject() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		sub, err := v.Verify(raw)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		c.Set(ContextSubject, sub)
		c.Next()
	}
}

// Subject returns the verified subject, or "" for anonymous requests.
func Subject(c *gin.Context) string {
	return c.GetString(ContextSubject)
}

// AdminActor returns who passed the admin gate.
func AdminActor(c *gin.Context) string {
	return c.GetString(ContextAdminActor)
}

// RoleLookup resolves a token subject to its roles.
type RoleLookup interface {
	RolesForSubject(ctx context.Context, subject string) ([]models.Role, error)
}

// RequireAdmin admits API-key holders and users holding the admin role.
func RequireAdmin(keys *APIKeyAuth, verifier *TokenVerifier, roles RoleLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(headerAPIKey); key != "" {
			if !keys.Valid(key) {
				abort(c, http.StatusUnauthorized, "invalid API key")
				return
			}
			c.Set(ContextAdminActor, APIKeyActor)
			c.Next()
			return
		}

		raw, ok := bearerToken(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "missing credentials")
			return
		}
		sub, err := verifier.Verify(raw)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		rs, err := roles.RolesForSubject(c.Request.Context(), sub)
		if err != nil || !hasRole(rs, models.RoleAdmin) {
			logger.Log.Warn("Admin access denied",
				zap.String("subject", sub),
				zap.String("path", c.Request.URL.Path),
			)
			abort(c, http.StatusForbidden, "admin access required")
			return
		}

		c.Set(ContextSubject, sub)
		c.Set(ContextAdminActor, sub)
		c.Next()
	}
}

func hasRole(roles []models.Role, want models.Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
