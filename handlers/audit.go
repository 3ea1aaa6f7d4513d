package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slotkeeper/database/repository"
	"slotkeeper/services/audit"
	"slotkeeper/utils"
)

// AuditHandler exposes the tenant audit log. Routes are behind tenant auth.
type AuditHandler struct {
	Audit audit.AuditService
	Clock utils.Clock
}

func NewAuditHandler(svc audit.AuditService, clock utils.Clock) *AuditHandler {
	if clock == nil {
		clock = utils.SystemClock()
	}
	return &AuditHandler{Audit: svc, Clock: clock}
}

// Timeline handles GET /api/audit/timeline?since=&limit=&slot_id=&interaction_id=
func (h *AuditHandler) Timeline(c *gin.Context) {
	since, ok := h.parseSince(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	entries, err := h.Audit.Timeline(c.Request.Context(), repository.AuditQuery{
		TenantID:      tenantFrom(c),
		SlotID:        c.Query("slot_id"),
		InteractionID: c.Query("interaction_id"),
		Since:         since,
		Limit:         limit,
	})
	if err != nil {
		getLogger(c).Error("Failed to read audit timeline", zap.Error(err))
		utils.JSONError(c, utils.StatusFor(err), "Failed to read audit timeline", "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Abuse handles GET /api/audit/abuse?since=&threshold=
func (h *AuditHandler) Abuse(c *gin.Context) {
	since, ok := h.parseSince(c)
	if !ok {
		return
	}
	threshold, _ := strconv.Atoi(c.Query("threshold"))

	holders, err := h.Audit.ConflictsByHolder(c.Request.Context(), tenantFrom(c), since, threshold)
	if err != nil {
		getLogger(c).Error("Failed to read conflict report", zap.Error(err))
		utils.JSONError(c, utils.StatusFor(err), "Failed to read conflict report", "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "holders": holders})
}

// parseSince reads an RFC 3339 time or a duration back from now. It
// defaults to the last 24 hours.
func (h *AuditHandler) parseSince(c *gin.Context) (time.Time, bool) {
	raw := c.Query("since")
	if raw == "" {
		return h.Clock.Now().Add(-24 * time.Hour), true
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return h.Clock.Now().Add(-d), true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid since parameter", "use RFC 3339 or a duration such as 6h")
		return time.Time{}, false
	}
	return t, true
}
