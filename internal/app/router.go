package app

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-settle/internal/auth"
	"github.com/noah-isme/backend-settle/internal/common"
	"github.com/noah-isme/backend-settle/internal/health"
	"github.com/noah-isme/backend-settle/internal/menu"
	"github.com/noah-isme/backend-settle/internal/obs"
	"github.com/noah-isme/backend-settle/internal/ratelimit"
	"github.com/noah-isme/backend-settle/internal/security"
	"github.com/noah-isme/backend-settle/internal/settle"
)

// API is the assembled HTTP surface.
type API struct {
	Handler   http.Handler
	Service   *settle.Service
	Terminals *auth.Terminals
}

// PprofAuth protects /debug/pprof with basic auth when User is set.
type PprofAuth struct {
	User string
	Pass string
}

// BuildAPI assembles the service and router from deps.
func BuildAPI(deps Dependencies, pprofAuth PprofAuth) (*API, error) {
	cfg := deps.Config
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	catalog, err := NewCatalog(cfg)
	if err != nil {
		return nil, err
	}
	limiter, err := NewLimiter(cfg, deps.Redis)
	if err != nil {
		return nil, err
	}
	metrics := obs.NewSettlementMetrics(cfg.MetricsNamespace, deps.Registerer)
	svc := NewService(deps, catalog, metrics)
	terminals := auth.NewTerminals(cfg.TerminalJWTSecret, cfg.TerminalJWTIssuer, cfg.TerminalJWTAudience)
	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, deps.Registerer)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: deps.Logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Idempotent-Replay", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production", HSTSMaxAge: 31536000}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	if cfg.PprofEnabled {
		r.Handle("/debug/pprof/*", protectPprof(newPprofMux(), pprofAuth.User, pprofAuth.Pass))
	}

	healthHandler := health.Handler{
		Checker: health.RedisChecker{Client: deps.Redis},
		Bills:   svc.OpenBills,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	opts := settle.RouteOptions{
		Terminal: []func(http.Handler) http.Handler{
			terminals.RequireTerminal,
			ratelimit.Handler{
				Limiter: limiter,
				Config: ratelimit.Config{
					Key:    ratelimit.ByPayer,
					Window: cfg.TerminalRateWindow,
					Max:    cfg.TerminalRateLimit,
				},
				OnError: func(err error) {
					deps.Logger.Warn().Err(err).Msg("rate_limiter_unavailable")
				},
			}.Middleware,
		},
	}
	if deps.Redis != nil {
		opts.Idempotent = common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}.Middleware
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/menu", menu.Handler{Catalog: catalog}.List)
		settle.NewHandler(svc).Register(v, opts)
	})

	return &API{Handler: r, Service: svc, Terminals: terminals}, nil
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
