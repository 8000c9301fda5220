package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/model"
)

// identityKey is the gin context key the middleware stores the verified
// identity under.
const identityKey = "auth.identity"

// Middleware rejects requests without a valid bearer token and stores the
// verified identity in the request context. Unauthenticated requests never
// reach a handler; handlers only ever see ForbiddenError, not 401.
func Middleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))

		identity, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "authentication required",
			})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// IdentityFrom extracts the verified identity stored by Middleware.
func IdentityFrom(c *gin.Context) (model.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return model.Identity{}, false
	}
	identity, ok := v.(model.Identity)
	return identity, ok
}

// RequireElevated aborts with 403 unless the caller holds the admin role.
func RequireElevated() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok || !identity.IsElevated() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "admin access required",
			})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return header
}
