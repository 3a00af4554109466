package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TenantValidationMiddleware requires the tenant header on every request and
// stashes it in the gin context for the custom-context middleware.
func TenantValidationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := strings.TrimSpace(c.GetHeader("Tenant"))
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tenant header is required"})
			return
		}

		c.Set("tenant", tenant)
		c.Next()
	}
}
