package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/cases"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Deps are the components the API serves. Bus is optional; without it the
// async ingest endpoint answers 503.
type Deps struct {
	Engine   *engine.Engine
	Store    domain.Store
	Catalog  *rules.Catalog
	Workflow *cases.Workflow
	Bus      domain.EventBus
	Version  string
}

// Server is the kestrel HTTP API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer mounts every route on a chi router. Nothing listens until Start.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	h := NewHandler(deps)
	r := chi.NewRouter()

	// CORS answers preflights before anything else runs. Recover sits
	// outside tracing so a panicking request still gets its span ended.
	r.Use(CORSMiddleware, RecoverMiddleware, TracingMiddleware, LoggingMiddleware)
	r.Use(middleware.RealIP, middleware.Compress(5))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Route("/score", func(sr chi.Router) {
			sr.Post("/onboarding", h.ScoreOnboarding)
			sr.Post("/login", h.ScoreLogin)
			sr.Post("/access", h.ScoreAccess)
		})
		v1.Post("/events", h.IngestEvent)

		v1.Route("/rules", func(rr chi.Router) {
			rr.Get("/", h.ListRules)
			rr.Post("/", h.CreateRule)
			rr.Post("/reload", h.ReloadRules)
			rr.Get("/{id}", h.GetRule)
			rr.Put("/{id}", h.UpdateRule)
			rr.Post("/{id}/disable", h.DisableRule)
		})

		v1.Route("/cases", func(cr chi.Router) {
			cr.Get("/", h.ListCases)
			cr.Get("/{id}", h.GetCase)
			cr.Post("/{id}/status", h.UpdateCaseStatus)
		})
	})

	return &Server{router: r, handler: h, config: cfg}
}

// Start listens on the configured address and blocks until Shutdown, which
// makes it return http.ErrServerClosed.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the mux so tests can serve requests without listening.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) Handler() *Handler {
	return s.handler
}
