package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := New()

	m.RelayCommands.WithLabelValues("relay_1", "on", "ok").Inc()
	m.RelayCommands.WithLabelValues("relay_1", "on", "ok").Inc()
	m.TickOverruns.Inc()
	m.RelayFault.WithLabelValues("relay_2").Set(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RelayCommands.WithLabelValues("relay_1", "on", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TickOverruns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayFault.WithLabelValues("relay_2")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relayctl_scheduler_tick_overruns_total 1")
}

func TestOr(t *testing.T) {
	m := New()
	assert.Same(t, m, Or(m))
	assert.Same(t, Default(), Or(nil))
}
