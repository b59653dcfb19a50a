package obs_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-settle/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("settle", []float64{10, 1}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/health/ready"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/health/ready", "204")))
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))
}

func TestHTTPMetricsReuseRegistered(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("settle", nil, registry)
	second := obs.NewHTTPMetrics("settle", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestSettlementMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := obs.NewSettlementMetrics("settle", registry)

	m.BillOpened()
	m.BillOpened()
	m.BillSettled()
	m.ObserveCommit("by_item", "conflict", time.Millisecond)
	m.SessionDelta(2)
	m.SessionDelta(-1)
	m.ObserveEvent("bill.settled", "ok")

	require.Equal(t, 1.0, testutil.ToFloat64(m.OpenBills))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SettledTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CommitTotal.WithLabelValues("by_item", "conflict")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("bill.settled", "ok")))

	var nilMetrics *obs.SettlementMetrics
	nilMetrics.BillOpened()
	nilMetrics.ObserveCommit("full", "ok", 0)
}

func TestRequestLoggerInstallsScopedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Get("/bills/{billID}", func(w http.ResponseWriter, r *http.Request) {
		obs.Logger(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bills/b-1", nil))

	out := buf.String()
	require.Contains(t, out, `"message":"inside"`)
	require.Contains(t, out, `"message":"http_request"`)
	require.Contains(t, out, `"bill_id":"b-1"`)
	require.Contains(t, out, `"route":"/bills/{billID}"`)
}

func TestLoggerWithoutContextIsUsable(t *testing.T) {
	obs.Logger(context.Background()).Info().Msg("dropped")
}
