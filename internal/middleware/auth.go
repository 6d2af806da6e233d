package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"whispr/internal/identity"
)

// Context keys set for authenticated requests.
const (
	UserIDKey      = "userID"
	DisplayNameKey = "displayName"
)

// TokenValidator resolves a bearer token to a host identity.
type TokenValidator interface {
	Parse(token string) (identity.Identity, error)
}

// AuthMiddleware rejects requests without a valid host token.
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token, ok := bearerToken(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		id, err := validator.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		setIdentity(c, id)
		c.Next()
	}
}

// OptionalAuth attaches the host identity when a valid token is present.
// Guests carry no token and pass through untouched.
func OptionalAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			if id, err := validator.Parse(token); err == nil {
				setIdentity(c, id)
			}
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setIdentity(c *gin.Context, id identity.Identity) {
	c.Set(UserIDKey, id.UserID)
	c.Set(DisplayNameKey, id.DisplayName)
}
