package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slotkeeper/models"
	"slotkeeper/services/booking"
	"slotkeeper/services/idempotency"
	"slotkeeper/services/tenant"
	"slotkeeper/utils"
)

// EventHandler serves the idempotent event contract.
type EventHandler struct {
	Resolver tenant.Resolver
	Guard    idempotency.Guard
	Booking  booking.BookingService
}

func NewEventHandler(resolver tenant.Resolver, guard idempotency.Guard, svc booking.BookingService) *EventHandler {
	return &EventHandler{Resolver: resolver, Guard: guard, Booking: svc}
}

// Receive handles POST /api/events. Every accepted delivery gets a 200 ack,
// duplicates included, so the sender stops retrying.
func (h *EventHandler) Receive(c *gin.Context) {
	logger := getLogger(c)

	var env models.EventEnvelope
	if err := c.ShouldBindJSON(&env); err != nil || env.EventID == "" || env.EventType == "" {
		logger.Warn("Invalid event envelope", zap.Error(err))
		utils.JSONError(c, http.StatusBadRequest, "Invalid event envelope", "event_id and event_type are required")
		return
	}

	tenantID, ok := resolveTenant(c, h.Resolver, env.TenantToken)
	if !ok {
		return
	}
	logger = logger.With(zap.String("tenant", tenantID), zap.String("event", env.EventID))

	res, err := h.Guard.Process(c.Request.Context(), tenantID, env.EventID, env.EventType, h.dispatch(tenantID, env))
	if err != nil {
		// Nothing was recorded, so the sender has to try again.
		logger.Error("Event could not be accepted", zap.Error(err))
		utils.JSONError(c, utils.StatusFor(err), "Event not accepted", "please retry")
		return
	}

	c.JSON(http.StatusOK, models.EventAck{Received: true, Duplicate: res.Duplicate, Outcome: res.Outcome})
}

func (h *EventHandler) dispatch(tenantID string, env models.EventEnvelope) idempotency.Handler {
	return func(ctx context.Context) (models.EventOutcome, error) {
		var p models.InteractionEventPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return models.EventOutcome{Result: models.EventResultIgnored, Message: "malformed payload"}, nil
			}
		}

		switch env.EventType {
		case models.EventVerificationSucceeded, models.EventVerificationFailed:
			if p.CorrelationID == "" {
				return models.EventOutcome{Result: models.EventResultIgnored, Message: "missing correlation_id"}, nil
			}
			return h.Booking.CompleteVerification(ctx, tenantID, p.CorrelationID,
				env.EventType == models.EventVerificationSucceeded)
		case models.EventAppointmentCancel:
			if p.CorrelationID == "" {
				return models.EventOutcome{Result: models.EventResultIgnored, Message: "missing correlation_id"}, nil
			}
			return h.Booking.CancelInteraction(ctx, tenantID, p.CorrelationID)
		}
		return models.EventOutcome{Result: models.EventResultIgnored, Message: "unknown event type"}, nil
	}
}
