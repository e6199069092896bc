package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campusiq-api/internal/models"
	appErrors "github.com/noah-isme/campusiq-api/pkg/errors"
	"github.com/noah-isme/campusiq-api/pkg/response"
)

// RequireRoles admits only callers whose token carries one of roles.
// The workflow re-checks ownership against the directory; this is a coarse gate.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; ok {
			c.Next()
			return
		}
		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RejectRoles blocks callers holding any of roles.
func RejectRoles(roles ...models.Role) gin.HandlerFunc {
	var allowed []models.Role
	for _, r := range models.Roles() {
		blocked := false
		for _, b := range roles {
			if r == b {
				blocked = true
				break
			}
		}
		if !blocked {
			allowed = append(allowed, r)
		}
	}
	return RequireRoles(allowed...)
}
