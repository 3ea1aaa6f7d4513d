package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slotkeeper/utils"
)

// ContextLogger is the gin context key of the request-scoped logger.
const ContextLogger = "logger"

// ContextTenant is the gin context key of the resolved tenant id.
const ContextTenant = "tenantID"

// getLogger retrieves the request logger from the gin context, falling back
// to the global one.
func getLogger(c *gin.Context) *zap.Logger {
	if l, exists := c.Get(ContextLogger); exists {
		if logger, ok := l.(*zap.Logger); ok {
			return logger
		}
	}
	return utils.GetLogger()
}

func tenantFrom(c *gin.Context) string {
	return c.GetString(ContextTenant)
}
