package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveConnectionsMirror(t *testing.T) {
	before := GetActiveConnectionsCount()
	IncrementActiveConnections()
	IncrementActiveConnections()
	DecrementActiveConnections()
	assert.Equal(t, before+1, GetActiveConnectionsCount())
	DecrementActiveConnections()
	assert.Equal(t, before, GetActiveConnectionsCount())
}

func TestFramesForwardedCounter(t *testing.T) {
	before := testutil.ToFloat64(FramesForwarded.WithLabelValues("upstream"))
	IncrementFramesForwarded("upstream")
	assert.Equal(t, before+1, testutil.ToFloat64(FramesForwarded.WithLabelValues("upstream")))
}

func TestRegisteredSeriesExposed(t *testing.T) {
	RegisterMetrics()

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_gate_admission_outcomes_total")
}
