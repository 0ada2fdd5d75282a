package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLedgerObserver(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	obs := m.LedgerObserver("GBP")

	obs.ObserveMatch(ledger.StrategySingle)
	obs.ObserveMatch(ledger.StrategySingle)
	obs.ObserveMatch(ledger.StrategyCombined)
	obs.ObserveDiagnostic(ledger.DiagUnmatchedForeign)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ledgerMatchesTotal.WithLabelValues("GBP", "single")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerMatchesTotal.WithLabelValues("GBP", "combined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerDiagnosticsTotal.WithLabelValues("GBP", "unmatched_foreign")))
}

func TestRecordLedgerBuild(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLedgerBuild("GBP", 12, 0.01)
	m.RecordLedgerBuild("GBP", 3, 0.02)

	assert.Equal(t, 15.0, testutil.ToFloat64(m.ledgerRowsTotal.WithLabelValues("GBP")))
}

func TestRecordDBQuery(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDBQuery("insert", "ledger_runs", 0.001, nil)
	m.RecordDBQuery("insert", "ledger_runs", 0.001, assert.AnError)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("insert", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("insert", "error")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	handler := HTTPMetricsMiddleware(m, "/api/v1/runs")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/runs", "GET", "4xx")))
}

func TestTimer(t *testing.T) {
	var got float64
	Timer(time.Now().Add(-time.Second), func(d float64) { got = d })()
	assert.GreaterOrEqual(t, got, 1.0)
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(204))
	assert.Equal(t, "3xx", statusCodeToString(302))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(99))
}
