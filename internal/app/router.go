// Package app wires the router and the background janitor loops.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ai-text-broker/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-text-broker/internal/config"
	"github.com/fairyhunter13/ai-text-broker/internal/observability"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limit mutating client endpoints. Worker traffic (pop/submit) is
	// deliberately exempt: a busy worker checks in every few seconds.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/api/v1/generate", srv.GenerateHandler())
		wr.Put("/api/v1/users", srv.CreateUserHandler())
		wr.Post("/api/v1/kudos/transfer", srv.TransferHandler())
	})

	r.Post("/api/v1/generate/pop", srv.PopHandler())
	r.Post("/api/v1/generate/submit", srv.SubmitHandler())
	r.Get("/api/v1/generate/{id}", srv.StatusHandler())
	r.Delete("/api/v1/generate/{id}", srv.CancelHandler())

	r.Get("/api/v1/users", srv.ListUsersHandler())
	r.Get("/api/v1/users/{alias}", srv.GetUserHandler())
	r.Get("/api/v1/status/models", srv.ModelsHandler())
	r.Get("/api/v1/status/workers", srv.WorkersHandler())
	r.Get("/api/v1/status/heartbeat", srv.HeartbeatHandler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
