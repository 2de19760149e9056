package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// MaxBodyBytes limits request bodies, which carry base64 media.
	// Zero disables the limit.
	MaxBodyBytes int64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   512 << 20,
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing:
//
//	GET    /health
//	POST   /jobs
//	GET    /jobs
//	GET    /jobs/{id}
//	DELETE /jobs/{id}
//	GET    /jobs/{id}/tracks/{index}/video
//	DELETE /jobs/{id}/videos
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /jobs", h.CreateJob)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.DeleteJob)
	mux.HandleFunc("GET /jobs/{id}/tracks/{index}/video", h.GetTrackVideo)
	mux.HandleFunc("DELETE /jobs/{id}/videos", h.DeleteJobVideos)

	var handler http.Handler = mux
	if cfg.MaxBodyBytes > 0 {
		handler = http.MaxBytesHandler(mux, cfg.MaxBodyBytes)
	}

	// Apply middleware chain
	chain := ChainMiddleware(
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		RecoveryMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(handler)
}
