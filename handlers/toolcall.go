package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slotkeeper/models"
	"slotkeeper/services/booking"
	"slotkeeper/services/tenant"
	"slotkeeper/utils"
)

// BookingHandler serves the tool-call contract.
type BookingHandler struct {
	Resolver tenant.Resolver
	Booking  booking.BookingService
}

func NewBookingHandler(resolver tenant.Resolver, svc booking.BookingService) *BookingHandler {
	return &BookingHandler{Resolver: resolver, Booking: svc}
}

// ToolCall handles POST /api/tools/booking. Business outcomes, conflicts and
// expiries included, are returned with 200.
func (h *BookingHandler) ToolCall(c *gin.Context) {
	logger := getLogger(c)

	var req models.ToolCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid tool call payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, models.ToolCallResponse{
			Outcome: models.OutcomeError,
			Message: "The request could not be read.",
		})
		return
	}

	tenantID, ok := resolveTenant(c, h.Resolver, req.TenantToken)
	if !ok {
		return
	}

	resp := h.Booking.Handle(c.Request.Context(), tenantID, req)
	c.JSON(http.StatusOK, resp)
}

// resolveTenant resolves the body credential, falling back to the
// Authorization header. It writes the error response itself.
func resolveTenant(c *gin.Context, resolver tenant.Resolver, credential string) (string, bool) {
	if credential == "" {
		credential = c.GetHeader("Authorization")
	}
	tenantID, err := resolver.Resolve(c.Request.Context(), credential)
	if err != nil {
		status := http.StatusUnauthorized
		message := "This request couldn't be authorised."
		if utils.IsInfrastructure(err) {
			status = http.StatusServiceUnavailable
			message = "We're having trouble right now. Please try again in a moment."
		}
		getLogger(c).Warn("Tenant credential rejected", zap.Error(err))
		c.AbortWithStatusJSON(status, models.ToolCallResponse{Outcome: models.OutcomeError, Message: message})
		return "", false
	}
	c.Set(ContextTenant, tenantID)
	return tenantID, true
}
