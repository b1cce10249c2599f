package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := NewTestMetrics()

	m.ObserveOperation("initialize", "ready")
	m.ObserveOperation("initialize", "ready")
	m.ObserveOperation("upgrade", "error")
	m.ObserveMaterialization("clone", true, 2*time.Second)
	m.ObserveMaterialization("generate", false, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.installations.WithLabelValues("initialize", "ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.installations.WithLabelValues("upgrade", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.materializations.WithLabelValues("generate", "failure")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.materializeDurations))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("download", "downloaded")
		m.ObserveMaterialization("clone", true, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.ObserveOperation("download", "downloaded")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `skillhub_installations_total{operation="download",status="downloaded"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
