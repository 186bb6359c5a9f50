package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Sessions.Inc()
	m.Sessions.Inc()
	m.Rooms.Set(3)
	m.EventsReceived.WithLabelValues("joinRoom").Inc()
	m.EventsSent.WithLabelValues("roomInfo").Add(2)
	m.Dropped.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sessions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Rooms))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("joinRoom")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsSent.WithLabelValues("roomInfo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped))
}

func TestMetricsHandler_Exposition(t *testing.T) {
	m := NewMetrics(nil)
	m.EventFailures.WithLabelValues("getRoomInfo").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `relay_event_failures_total{event="getRoomInfo"} 1`)
	assert.Contains(t, string(body), "relay_sessions_connected 0")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
