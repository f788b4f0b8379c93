package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"poold/internal/config"
	"poold/internal/observability"
	"poold/internal/pool"
)

func Logger(cfg config.Config) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.Logger.Level(cfg.LogLevel).With().Timestamp().Logger()
	return &logger
}

// NewRouter wires the REST surface around an injected pool service. Handlers
// hold no state of their own; everything mutable lives in the service.
func NewRouter(cfg config.Config, svc *pool.Service, metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(zerologMiddleware(Logger(cfg)))

	// Dev CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": "0.1.0"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/disks", handleScan(svc))
		r.Post("/disks/{disk}/ignore", handleIgnore(svc, true))
		r.Delete("/disks/{disk}/ignore", handleIgnore(svc, false))

		r.Get("/pool", handlePoolStatus(svc))
		r.Post("/pool/reconfigure", handleReconfigure(svc))
		r.Post("/pool/disks", handleAddDisk(svc))
		r.Delete("/pool/disks/{disk}", handleRemoveDisk(svc))
		r.Get("/pool/sync", handleSyncStatus(svc))
		r.Post("/pool/sync", handleStartSync(svc))

		r.Post("/volumes", handleMountStandalone(svc))
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
