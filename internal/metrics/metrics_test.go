package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesPrivateRegistry(t *testing.T) {
	// Two instances in one process must not panic on duplicate registration.
	a := New()
	b := New()

	a.SearchesTotal.WithLabelValues(OutcomeHit).Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.SearchesTotal.WithLabelValues(OutcomeHit)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SearchesTotal.WithLabelValues(OutcomeHit)))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.IndexOpsTotal.WithLabelValues("index", Status(nil)).Inc()
	m.RebuildsTotal.WithLabelValues(Status(errors.New("boom"))).Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `prefixsearch_index_operations_total{operation="index",status="ok"} 1`))
	assert.True(t, strings.Contains(body, `prefixsearch_rebuilds_total{status="error"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
