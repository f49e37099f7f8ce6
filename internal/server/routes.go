package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /api/videos", h.CreateVideo)
	mux.HandleFunc("GET /api/videos/{id}/status", h.VideoStatus)
	mux.HandleFunc("POST /api/videos/{id}/process", h.ProcessVideo)
	mux.HandleFunc("GET /api/artifacts", h.ListArtifacts)
	mux.HandleFunc("GET /cache/{id}", h.CachedVideo)
	mux.HandleFunc("GET /provider/{id}", h.ProviderVideo)
	mux.HandleFunc("GET /posters/{id}", h.Poster)

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
