package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/voice-tutor/internal/auth"
)

const (
	AuthCookie  = "auth-token"
	IdentityKey = "identity"
)

type Resolver interface {
	Resolve(ctx context.Context, token string) (*auth.Identity, bool)
}

// LoadIdentity attaches the identity behind the auth cookie, if any. A
// stale cookie is the same as no cookie.
func LoadIdentity(r Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, err := c.Cookie(AuthCookie); err == nil && token != "" {
			if id, ok := r.Resolve(c.Request.Context(), token); ok {
				c.Set(IdentityKey, id)
			}
		}
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*auth.Identity)
	return id, ok && id != nil
}

// RequireAuth sends anonymous browsers to the login page.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := IdentityFrom(c); !ok {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAuthJSON answers anonymous API calls with 401.
func RequireAuthJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := IdentityFrom(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		c.Next()
	}
}
