package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slotkeeper/services/tenant"
	"slotkeeper/utils"
)

// TenantAuthMiddleware resolves the bearer credential and stores the tenant
// id in the context. It fails closed.
func TenantAuthMiddleware(resolver tenant.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := resolver.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			if utils.IsInfrastructure(err) {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Tenant registry unavailable"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid tenant credential"})
			return
		}

		c.Set("tenantID", tenantID)
		if l, ok := c.Get("logger"); ok {
			if logger, ok := l.(*zap.Logger); ok {
				c.Set("logger", logger.With(zap.String("tenant", tenantID)))
			}
		}
		c.Next()
	}
}
