package rest

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/application/auth"
)

const (
	contextKeyUserID   = "user_id"
	contextKeyEmail    = "email"
	contextKeyUsername = "username"
	contextKeyIsAdmin  = "is_admin"
	contextKeyRoles    = "roles"
)

// AuthMiddleware validates bearer tokens and populates the gin context with
// the authenticated user's identity.
type AuthMiddleware struct {
	providerManager *auth.ProviderManager
	authService     *auth.Service
}

// NewAuthMiddleware creates an AuthMiddleware backed by pm for token
// validation.
func NewAuthMiddleware(pm *auth.ProviderManager, authService *auth.Service) *AuthMiddleware {
	return &AuthMiddleware{providerManager: pm, authService: authService}
}

// extractBearerToken returns the token from an "Authorization: Bearer <token>"
// header, or "" if absent/malformed.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// setAuthContext stores the validated claims on c for downstream handlers.
func setAuthContext(c *gin.Context, claims *auth.JWTClaims) {
	c.Set(contextKeyUserID, claims.UserID)
	c.Set(contextKeyEmail, claims.Email)
	c.Set(contextKeyUsername, claims.Username)
	c.Set(contextKeyIsAdmin, claims.IsAdmin)
	c.Set(contextKeyRoles, claims.Roles)
}

// RequireAuth rejects requests without a valid bearer token.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			respondError(c, 401, "missing authorization token")
			c.Abort()
			return
		}

		claims, err := m.providerManager.ValidateToken(c.Request.Context(), token)
		if err != nil {
			respondError(c, 401, "invalid or expired token")
			c.Abort()
			return
		}

		setAuthContext(c, claims)
		c.Next()
	}
}

// OptionalAuth populates the auth context when a valid token is present but
// never rejects the request.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := m.providerManager.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.Next()
			return
		}

		setAuthContext(c, claims)
		c.Next()
	}
}

// RequireAdmin rejects requests from non-admin users. Must run after
// RequireAuth has populated the auth context.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin, ok := c.Get(contextKeyIsAdmin)
		if !ok || isAdmin != true {
			respondError(c, 403, "admin privileges required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user's ID from the gin context.
func GetUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(contextKeyUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// GetUserIDAsUUID returns the authenticated user's ID parsed as a UUID.
func GetUserIDAsUUID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := GetUserID(c)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}
