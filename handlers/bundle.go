package handlers

import (
	"github.com/gin-gonic/gin"

	"slotkeeper/services/tenant"
)

// HandlerBundle groups every endpoint handler for route registration.
type HandlerBundle struct {
	Resolver tenant.Resolver

	// Booking endpoints
	ToolCallHandler gin.HandlerFunc
	EventsHandler   gin.HandlerFunc

	// Audit endpoints
	TimelineHandler gin.HandlerFunc
	AbuseHandler    gin.HandlerFunc

	HealthHandler gin.HandlerFunc
}
