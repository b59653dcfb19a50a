package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-settle/internal/config"
	"github.com/noah-isme/backend-settle/internal/ratelimit"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadForTests(map[string]string{
		"REDIS_URL":           "",
		"QUEUE_ENABLED":       "",
		"TERMINAL_JWT_SECRET": "",
		"MENU_FILE":           "",
		"BODY_LIMIT_BYTES":    "4096",
	})
	require.NoError(t, err)
	return cfg
}

func newAPI(t *testing.T, rdb *redis.Client) (*API, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	api, err := BuildAPI(Dependencies{
		Config:     testConfig(t),
		Logger:     zerolog.Nop(),
		Redis:      rdb,
		Registerer: reg,
		Gatherer:   reg,
	}, PprofAuth{})
	require.NoError(t, err)
	return api, reg
}

func serve(api *API, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	api.Handler.ServeHTTP(rec, req)
	return rec
}

func TestAPIServesBillsWithoutRedis(t *testing.T) {
	api, _ := newAPI(t, nil)

	rec := serve(api, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = serve(api, http.MethodGet, "/api/v1/menu?locale=es", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Tacos de Short Rib")

	rec = serve(api, http.MethodPost, "/api/v1/bills", `{"tableId":"T1","items":[{"menuItemId":"rup-food-1","quantity":2}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, 1, api.Service.OpenBills())

	rec = serve(api, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"redis":"ok","openBills":1}`, rec.Body.String())

	rec = serve(api, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "settle_open_bills 1")
	require.Contains(t, rec.Body.String(), "settle_http_requests_total")
}

func TestAPIRejectsLargeBodies(t *testing.T) {
	api, _ := newAPI(t, nil)
	rec := serve(api, http.MethodPost, "/api/v1/bills", `{"tableId":"`+strings.Repeat("x", 5000)+`"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Contains(t, rec.Body.String(), "PAYLOAD_TOO_LARGE")
}

func TestAPIIdempotentCommitsWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	api, _ := newAPI(t, rdb)

	rec := serve(api, http.MethodPost, "/api/v1/bills", `{"items":[{"menuItemId":"rup-food-1","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var opened struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, jsonDecode(rec.Body, &opened))

	path := "/api/v1/bills/" + opened.Data.ID + "/payments/external"
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"amount":1000}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "terminal-9:1")
		out := httptest.NewRecorder()
		api.Handler.ServeHTTP(out, req)
		return out
	}
	first := send()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := send()
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replay"))

	payments, err := api.Service.Payments(context.Background(), opened.Data.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
}

func TestNewLimiterBackends(t *testing.T) {
	cfg := testConfig(t)

	l, err := NewLimiter(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, ratelimit.FixedLimiter{}, l)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l, err = NewLimiter(cfg, rdb)
	require.NoError(t, err)
	require.IsType(t, ratelimit.SlidingLimiter{}, l)

	cfg.RateLimitBackend = "ulule"
	l, err = NewLimiter(cfg, rdb)
	require.NoError(t, err)
	require.IsType(t, ratelimit.FixedLimiter{}, l)

	allowed, remaining, _, err := ratelimit.FixedLimiter{}.Allow(context.Background(), "ip:1", time.Minute, 2)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 2, remaining)
}

func jsonDecode(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
