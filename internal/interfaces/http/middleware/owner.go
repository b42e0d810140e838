// internal/interfaces/http/middleware/owner.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/identity"
	"github.com/your-org/storefront-backend/internal/pkg/auth"
)

const resolutionKey = "cart_resolution"

// ResolveOwner resolves the cart owner once per request and stores it in the
// gin context. It never rejects a request.
func ResolveOwner(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := resolver.Resolve(c.Writer, c.Request)
		c.Set(resolutionKey, res)
		if res.Principal != nil {
			c.Set("user_id", res.Principal.UserID)
			c.Set("user_email", res.Principal.Email)
		}
		c.Next()
	}
}

// RequireUser rejects requests that did not resolve to a verified user
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := GetResolution(c)
		if !ok || !res.Authenticated() {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetResolution returns the resolution stored by ResolveOwner
func GetResolution(c *gin.Context) (identity.Resolution, bool) {
	value, exists := c.Get(resolutionKey)
	if !exists {
		return identity.Resolution{}, false
	}
	res, ok := value.(identity.Resolution)
	return res, ok
}

// GetOwner returns the resolved cart owner
func GetOwner(c *gin.Context) (cart.Owner, bool) {
	res, ok := GetResolution(c)
	if !ok {
		return cart.Owner{}, false
	}
	return res.Owner, true
}

// GetPrincipal returns the verified principal, if any
func GetPrincipal(c *gin.Context) (*auth.Principal, bool) {
	res, ok := GetResolution(c)
	if !ok || res.Principal == nil {
		return nil, false
	}
	return res.Principal, true
}

// GetUserIDFromContext extracts user ID from gin context
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok && id != ""
}
