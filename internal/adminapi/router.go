// Package adminapi is the JWT-authenticated HTTP API operators use to
// inspect and intervene in a running galaxycache node: liveness/readiness
// probes, node and per-line status, and manual eviction.
package adminapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	adminauth "github.com/marmos91/galaxycache/internal/adminapi/auth"
	"github.com/marmos91/galaxycache/internal/adminapi/handlers"
	adminMiddleware "github.com/marmos91/galaxycache/internal/adminapi/middleware"
	"github.com/marmos91/galaxycache/internal/cluster"
	"github.com/marmos91/galaxycache/internal/coherence"
	"github.com/marmos91/galaxycache/internal/logger"
)

// NewRouter builds the chi router for the admin API. cluster may be nil
// for a standalone node.
func NewRouter(table *coherence.Table, node *coherence.Node, c *cluster.Cluster, jwtService *adminauth.JWTService) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(c)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	statusHandler := handlers.NewStatusHandler(table, c)
	lineHandler := handlers.NewLineHandler(table, node)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(adminMiddleware.JWTAuth(jwtService))

			// Status and line dumps are readable by admin and viewer.
			r.Get("/status", statusHandler.Status)
			r.Get("/lines", lineHandler.List)
			r.Get("/lines/{id}", lineHandler.Get)

			// Eviction is a mutating operation; admin only.
			r.Group(func(r chi.Router) {
				r.Use(adminMiddleware.RequireAdmin())
				r.Post("/lines/{id}/evict", lineHandler.Evict)
			})
		})
	})

	return r
}

// requestLogger logs each request's method, path, status and duration,
// same shape as the teacher's controlplane API router.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("admin API request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
