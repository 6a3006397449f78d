package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct{ count, pending int }

func (g fakeGateway) Count() int           { return g.count }
func (g fakeGateway) PendingPayments() int { return g.pending }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckHealth_Healthy(t *testing.T) {
	mock := clock.NewMock()
	h := NewHealthChecker(fakeGateway{count: 3, pending: 1}, 100, "v1.2.3", mock)
	h.AddBackend("redis", pingFunc(func(context.Context) error { return nil }))
	mock.Add(90 * time.Minute)

	resp := h.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)
	assert.Equal(t, "1h 30m 0s", resp.Uptime)
	assert.Equal(t, 3, resp.Summary["active_connections"])
	assert.Equal(t, 1, resp.Summary["pending_payments"])
	require.Len(t, resp.Components, 3)
	assert.Equal(t, "redis", resp.Components[2].Name)
}

func TestCheckHealth_AtCapacityIsDegraded(t *testing.T) {
	h := NewHealthChecker(fakeGateway{count: 10}, 10, "dev", clock.NewMock())
	resp := h.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, resp.Components[0].Status)
	assert.NotEqual(t, StatusHealthy, resp.Status)
}

func TestServeHTTP_UnreachableBackend(t *testing.T) {
	h := NewHealthChecker(fakeGateway{}, 10, "dev", clock.NewMock())
	h.AddBackend("ledger", pingFunc(func(context.Context) error { return errors.New("connection refused") }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "connection refused", resp.Components[2].Details["error"])
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	h := NewHealthChecker(fakeGateway{}, 0, "dev", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "42s", formatUptime(42*time.Second))
	assert.Equal(t, "2m 5s", formatUptime(125*time.Second))
	assert.Equal(t, "1d 0h 0m 1s", formatUptime(24*time.Hour+time.Second))
}
