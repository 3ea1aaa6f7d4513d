package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"slotkeeper/handlers"
	"slotkeeper/utils"
)

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, credential string) (string, error) {
	if strings.TrimPrefix(credential, "Bearer ") == "tok-t1" {
		return "t1", nil
	}
	return "", utils.Unauthorized("invalid tenant credential", nil)
}

func newRouter(perMin int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"tenant": c.GetString("tenantID")}) }
	hb := &handlers.HandlerBundle{
		Resolver:        stubResolver{},
		ToolCallHandler: ok,
		EventsHandler:   ok,
		TimelineHandler: ok,
		AbuseHandler:    ok,
		HealthHandler:   ok,
	}
	r := gin.New()
	RegisterRoutes(r, hb, zap.NewNop(), perMin)
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuditRoutesRequireTenant(t *testing.T) {
	r := newRouter(6000)

	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/audit/timeline", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/audit/abuse", "wrong").Code)

	w := get(r, "/api/audit/timeline", "tok-t1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tenant":"t1"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	// 10 per minute allows a burst of one.
	r := newRouter(10)

	assert.Equal(t, http.StatusOK, get(r, "/api/audit/timeline", "tok-t1").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/api/audit/timeline", "tok-t1").Code)

	// Health probes are not limited.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(r, "/health", "").Code)
	}
}
