// Package api exposes settings, search results, analytics and exports over
// HTTP. Every route takes an optional ?site_id= selecting the tenant.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/schedule"
	"github.com/sells-group/serp-monitor/internal/store"
)

// Stores resolves the store of a tenant.
type Stores interface {
	Resolve(ctx context.Context, tenantID string) (store.Store, error)
}

// Settings reads and updates tenant settings.
type Settings interface {
	Get(ctx context.Context, tenantID string) (*model.Settings, error)
	Update(ctx context.Context, tenantID string, u model.SettingsUpdate) (*model.Settings, error)
}

// Scheduler triggers runs and reports schedule state.
type Scheduler interface {
	RunNow(ctx context.Context, tenantID string) error
	Status(ctx context.Context, tenantID string) (*schedule.Status, error)
}

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	stores    Stores
	settings  Settings
	scheduler Scheduler
	origins   []string
	now       func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server.
func New(stores Stores, settings Settings, scheduler Scheduler, opts ...Option) *Server {
	s := &Server{
		stores:    stores,
		settings:  settings,
		scheduler: scheduler,
		origins:   []string{"*"},
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)

		r.Route("/search", func(r chi.Router) {
			r.Post("/run", s.handleRunNow)
			r.Get("/status", s.handleStatus)
			r.Get("/results", s.handleListResults)
			r.Get("/results/{id}", s.handleGetResult)
			r.Get("/stats", s.handleStats)
			r.Get("/links/stats", s.handleLinkStats)
			r.Get("/reports/{period}", s.handlePeriodReports)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/position-trend", s.handlePositionTrend)
			r.Get("/domain-distribution", s.handleDomainDistribution)
			r.Get("/top-movers", s.handleTopMovers)
			r.Get("/competitor-analysis", s.handleCompetitorAnalysis)
			r.Get("/filter-links", s.handleFilterLinks)
		})

		r.Route("/export/excel", func(r chi.Router) {
			r.Get("/daily", s.handleExportDaily)
			r.Get("/position-history", s.handleExportHistory)
			r.Get("/summary", s.handleExportSummary)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func tenantOf(r *http.Request) string {
	return model.SanitizeTenantID(r.URL.Query().Get("site_id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// internalError logs err and hides it from the client.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("tenant_id", tenantOf(r)),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}
