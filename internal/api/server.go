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

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/worker"
)

// Server is the tripwire HTTP API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the handler into a chi router. Probes and metrics are
// open; every other route requires a tenant.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, c domain.Cache, b domain.EventBus, pipeline *worker.Pipeline, version string) *Server {
	h := NewHandler(repo, c, b, pipeline, version)
	r := chi.NewRouter()

	r.Use(RecoverMiddleware)
	r.Use(CORSMiddleware(cfg.AllowedOrigins))
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Compress(5, "application/json"))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)
		r.Use(BodyLimitMiddleware(cfg.MaxBodyBytes))

		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.IngestEvents)
			r.Get("/{id}", h.GetEvent)
		})

		r.Post("/evaluate", h.Evaluate)
		r.Post("/scan", h.Scan)
		r.Get("/reports/{id}", h.GetReport)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/reload", h.ReloadRules)
			r.Get("/{id}", h.GetRule)
			r.Delete("/{id}", h.DeleteRule)
		})
	})

	return &Server{router: r, handler: h, config: cfg}
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for httptest.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the request handler.
func (s *Server) Handler() *Handler {
	return s.handler
}
