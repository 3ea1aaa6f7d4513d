package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slotkeeper/database/repository"
	sqliteRepo "slotkeeper/database/repository/sqlite"
	"slotkeeper/models"
	"slotkeeper/services/idempotency"
	"slotkeeper/utils"
)

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, credential string) (string, error) {
	switch strings.TrimPrefix(credential, "Bearer ") {
	case "tok-t1":
		return "t1", nil
	case "tok-down":
		return "", utils.Infrastructure("registry unavailable", nil)
	}
	return "", utils.Unauthorized("invalid tenant credential", nil)
}

type fakeBooking struct {
	mu       sync.Mutex
	requests []models.ToolCallRequest
	tenants  []string
	verified []bool
	cancels  []string
}

func (f *fakeBooking) Handle(_ context.Context, tenantID string, req models.ToolCallRequest) models.ToolCallResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants = append(f.tenants, tenantID)
	f.requests = append(f.requests, req)
	return models.ToolCallResponse{Outcome: models.OutcomeAvailable, Message: "ok"}
}

func (f *fakeBooking) CompleteVerification(_ context.Context, _, _ string, succeeded bool) (models.EventOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, succeeded)
	return models.EventOutcome{Result: models.EventResultSucceeded, Data: map[string]string{"outcome": "booked"}}, nil
}

func (f *fakeBooking) CancelInteraction(_ context.Context, _, correlationID string) (models.EventOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, correlationID)
	return models.EventOutcome{Result: models.EventResultSucceeded}, nil
}

type brokenGuard struct{}

func (brokenGuard) Process(context.Context, string, string, string, idempotency.Handler) (idempotency.Result, error) {
	return idempotency.Result{}, utils.Infrastructure("processed events unavailable", nil)
}

func (brokenGuard) Prune(context.Context) (int64, error) { return 0, nil }

type fakeAudit struct {
	query   repository.AuditQuery
	since   time.Time
	entries []models.AuditEntry
}

func (f *fakeAudit) Record(context.Context, models.AuditEntry) {}

func (f *fakeAudit) Timeline(_ context.Context, q repository.AuditQuery) ([]models.AuditEntry, error) {
	f.query = q
	return f.entries, nil
}

func (f *fakeAudit) ConflictsByHolder(_ context.Context, _ string, since time.Time, _ int) ([]models.HolderConflicts, error) {
	f.since = since
	return []models.HolderConflicts{{HolderID: "+14155550100", Conflicts: 4}}, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newGuard(t *testing.T) idempotency.Guard {
	t.Helper()
	store, err := sqliteRepo.Open(filepath.Join(t.TempDir(), "events.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	return idempotency.NewStoreGuard(store, nil, nil, zap.NewNop(), time.Second, 72*time.Hour, utils.RetryPolicy{Attempts: 1})
}

func post(r http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestToolCall(t *testing.T) {
	svc := &fakeBooking{}
	h := NewBookingHandler(fakeResolver{}, svc)
	r := gin.New()
	r.POST("/api/tools/booking", h.ToolCall)

	tests := []struct {
		name    string
		body    string
		headers map[string]string
		status  int
	}{
		{"malformed body", `{"intent":`, nil, http.StatusBadRequest},
		{"missing credential", `{"correlation_id":"c1","intent":"check_availability"}`, nil, http.StatusUnauthorized},
		{"wrong credential", `{"tenant_token":"nope","correlation_id":"c1","intent":"check_availability"}`, nil, http.StatusUnauthorized},
		{"registry down", `{"tenant_token":"tok-down","correlation_id":"c1","intent":"check_availability"}`, nil, http.StatusServiceUnavailable},
		{"body credential", `{"tenant_token":"tok-t1","correlation_id":"c1","intent":"check_availability"}`, nil, http.StatusOK},
		{"header credential", `{"correlation_id":"c2","intent":"check_availability"}`, map[string]string{"Authorization": "Bearer tok-t1"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(r, "/api/tools/booking", tt.body, tt.headers)
			assert.Equal(t, tt.status, w.Code)

			var resp models.ToolCallResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Message)
			if tt.status != http.StatusOK {
				assert.Equal(t, models.OutcomeError, resp.Outcome)
			}
		})
	}

	require.Len(t, svc.requests, 2)
	assert.Equal(t, []string{"t1", "t1"}, svc.tenants)
	assert.Equal(t, "c1", svc.requests[0].CorrelationID)
	assert.Equal(t, models.IntentCheckAvailability, svc.requests[1].Intent)
}

func TestEvents_DuplicateDeliveryAppliedOnce(t *testing.T) {
	svc := &fakeBooking{}
	h := NewEventHandler(fakeResolver{}, newGuard(t), svc)
	r := gin.New()
	r.POST("/api/events", h.Receive)

	body := `{"tenant_token":"tok-t1","event_id":"evt-1","event_type":"verification.succeeded","payload":{"correlation_id":"c1"}}`

	var acks []models.EventAck
	for i := 0; i < 3; i++ {
		w := post(r, "/api/events", body, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var ack models.EventAck
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
		acks = append(acks, ack)
	}

	assert.Equal(t, []bool{true}, svc.verified)
	assert.False(t, acks[0].Duplicate)
	for _, ack := range acks {
		assert.True(t, ack.Received)
		assert.Equal(t, "booked", ack.Outcome.Data["outcome"])
	}
	assert.True(t, acks[1].Duplicate)
	assert.True(t, acks[2].Duplicate)
}

func TestEvents_Dispatch(t *testing.T) {
	svc := &fakeBooking{}
	h := NewEventHandler(fakeResolver{}, newGuard(t), svc)
	r := gin.New()
	r.POST("/api/events", h.Receive)

	tests := []struct {
		name   string
		body   string
		result string
	}{
		{"verification failed", `{"event_id":"e1","event_type":"verification.failed","payload":{"correlation_id":"c1"}}`, models.EventResultSucceeded},
		{"cancel", `{"event_id":"e2","event_type":"appointment.cancel","payload":{"correlation_id":"c9"}}`, models.EventResultSucceeded},
		{"unknown type", `{"event_id":"e3","event_type":"calendar.synced","payload":{}}`, models.EventResultIgnored},
		{"missing correlation", `{"event_id":"e4","event_type":"verification.succeeded","payload":{}}`, models.EventResultIgnored},
		{"malformed payload", `{"event_id":"e5","event_type":"verification.succeeded","payload":"nope"}`, models.EventResultIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(r, "/api/events", tt.body, map[string]string{"Authorization": "Bearer tok-t1"})
			require.Equal(t, http.StatusOK, w.Code)
			var ack models.EventAck
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
			assert.Equal(t, tt.result, ack.Outcome.Result)
		})
	}

	assert.Equal(t, []bool{false}, svc.verified)
	assert.Equal(t, []string{"c9"}, svc.cancels)
}

func TestEvents_Rejected(t *testing.T) {
	r := gin.New()
	r.POST("/api/events", NewEventHandler(fakeResolver{}, newGuard(t), &fakeBooking{}).Receive)
	r.POST("/broken", NewEventHandler(fakeResolver{}, brokenGuard{}, &fakeBooking{}).Receive)

	auth := map[string]string{"Authorization": "Bearer tok-t1"}
	assert.Equal(t, http.StatusBadRequest, post(r, "/api/events", `{"event_type":"verification.failed"}`, auth).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, "/api/events", `{"event_id":"e1"}`, auth).Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, "/api/events", `{"event_id":"e1","event_type":"x"}`, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, post(r, "/broken", `{"event_id":"e1","event_type":"x"}`, auth).Code)
}

func TestAudit_Timeline(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc := &fakeAudit{entries: []models.AuditEntry{{ID: "a1", TenantID: "t1", Kind: models.AuditClaim}}}
	h := NewAuditHandler(svc, utils.NewFakeClock(now))

	r := gin.New()
	withTenant := func(c *gin.Context) { c.Set(ContextTenant, "t1"); c.Next() }
	r.GET("/timeline", withTenant, h.Timeline)
	r.GET("/abuse", withTenant, h.Abuse)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/timeline?since=6h&limit=10&slot_id=s1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", svc.query.TenantID)
	assert.Equal(t, "s1", svc.query.SlotID)
	assert.Equal(t, 10, svc.query.Limit)
	assert.Equal(t, now.Add(-6*time.Hour), svc.query.Since)

	var body struct {
		Entries []models.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "a1", body.Entries[0].ID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abuse?since=2026-03-01T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), svc.since)
	assert.Contains(t, w.Body.String(), "+14155550100")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abuse?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abuse", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, now.Add(-24*time.Hour), svc.since)
}
