package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"hotelfiscal/internal/core/apperror"
	appctx "hotelfiscal/internal/core/context"
)

// HeaderPeerToken carries the shared secret of the peer instance.
const HeaderPeerToken = "X-Peer-Token"

// JWTValidator interface for token validation.
type JWTValidator interface {
	ValidateToken(tokenString string) (*appctx.UserContext, error)
}

// PeerVerifier validates peer tokens.
type PeerVerifier interface {
	Verify(token string) (*appctx.UserContext, error)
}

// Auth middleware validates JWT tokens and populates user context.
func Auth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		user, err := validator.ValidateToken(parts[1])
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		setUser(c, user)
		c.Next()
	}
}

// OptionalAuth validates token if present, but doesn't require it.
// Operators without a token are recorded by the X-User-Name header, if any.
func OptionalAuth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator != nil {
			parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				if user, err := validator.ValidateToken(parts[1]); err == nil && user != nil {
					setUser(c, user)
					c.Next()
					return
				}
			}
		}
		if name := strings.TrimSpace(c.GetHeader("X-User-Name")); name != "" {
			setUser(c, &appctx.UserContext{Name: name})
		}
		c.Next()
	}
}

// PeerAuth accepts only requests carrying a valid peer token.
func PeerAuth(verifier PeerVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := verifier.Verify(c.GetHeader(HeaderPeerToken))
		if err != nil {
			abortUnauthorized(c, "invalid peer token")
			return
		}
		setUser(c, user)
		c.Next()
	}
}

// RequireRole middleware checks if user has required role.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := appctx.GetUser(c.Request.Context())
		if user == nil {
			abortUnauthorized(c, "authentication required")
			return
		}
		if user.IsAdmin {
			c.Next()
			return
		}

		for _, required := range roles {
			for _, userRole := range user.Roles {
				if userRole == required {
					c.Next()
					return
				}
			}
		}
		_ = c.Error(
			apperror.NewForbidden("insufficient permissions").
				WithDetail("required_roles", roles),
		)
		c.Abort()
	}
}

func setUser(c *gin.Context, user *appctx.UserContext) {
	c.Request = c.Request.WithContext(appctx.WithUser(c.Request.Context(), user))
	c.Set("user_id", user.UserID)
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
