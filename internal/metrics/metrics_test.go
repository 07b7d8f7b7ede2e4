package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersAreNoopsUntilEnabled(t *testing.T) {
	m := GetMetrics()
	require.False(t, IsMetricsEnabled())

	before := testutil.ToFloat64(m.SearchAttemptsTotal.WithLabelValues("block-url", "noop-check"))
	m.RecordSearchAttempt("block-url", "noop-check")
	assert.Equal(t, before, testutil.ToFloat64(m.SearchAttemptsTotal.WithLabelValues("block-url", "noop-check")))

	EnableMetrics()
	t.Cleanup(func() { metricsEnabled.Store(false) })

	m.RecordSearchAttempt("block-url", "noop-check")
	assert.Equal(t, before+1, testutil.ToFloat64(m.SearchAttemptsTotal.WithLabelValues("block-url", "noop-check")))

	m.RecordCommit("completed", 12*time.Second)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.CommitOutcomesTotal.WithLabelValues("completed")), 1.0)

	m.RecordHTTPRequest("/api/search", http.StatusOK)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/api/search", "200")), 1.0)

	m.UpdateRateLimit(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RemoteRateLimit))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pawl_search_attempts_total"))
}

func TestMeasureDurationDisabled(t *testing.T) {
	done := MeasureDuration(GetMetrics().SearchDuration, nil)
	assert.NotPanics(t, done)
}
