package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slotkeeper/handlers"
	"slotkeeper/middleware"
)

// RegisterBookingRoutes registers the tool-call and event endpoints. Both
// resolve the tenant from the request themselves.
func RegisterBookingRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api")
	{
		api.POST("/tools/booking", hb.ToolCallHandler)
		api.POST("/events", hb.EventsHandler)
	}
}

// RegisterAuditRoutes registers the read side of the audit log.
func RegisterAuditRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	auditGroup := r.Group("/api/audit")
	{
		auditGroup.Use(middleware.TenantAuthMiddleware(hb.Resolver))
		auditGroup.GET("/timeline", hb.TimelineHandler)
		auditGroup.GET("/abuse", hb.AbuseHandler)
	}
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.GET("/health", hb.HealthHandler)
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle, logger *zap.Logger, perMin int) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.RequestLogger(logger))

	// Health checks are registered before the rate limiter so probes are never throttled.
	RegisterHealthRoute(r, hb)

	r.Use(middleware.RateLimitMiddleware(perMin))
	RegisterBookingRoutes(r, hb)
	RegisterAuditRoutes(r, hb)
}
