package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/okieraised/relay-controller/internal/infrastructure/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMux(t *testing.T) {
	m := metrics.New()
	m.TickOverruns.Inc()
	mux, err := NewMux(m.Handler())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relayctl_")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/statsviz/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
