package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slotkeeper/utils"
)

// Health handles GET /health with the latest background snapshot.
func Health(c *gin.Context) {
	status := utils.GetHealthStatus()
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": statusText(status), "health": status})
}

func statusText(s utils.HealthStatus) string {
	if s.Healthy() {
		return "ok"
	}
	return "degraded"
}
