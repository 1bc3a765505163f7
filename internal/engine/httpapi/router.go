// Package httpapi implements the HTTP Surface helpers shared by every
// device (spec.md §4.8): router construction, bearer decode/validate,
// access-level enforcement, and the uniform JSON response conventions.
package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
)

// CORSConfig carries the policy persisted in the server configuration file
// (spec.md §6), mirrored here so httpapi does not import the config package.
type CORSConfig struct {
	Origins          []string
	AllowCredentials bool
	AllowMethods     []string
	AllowHeaders     []string
}

// NewRouter builds a chi.Mux with the same CORS wiring style as the
// teacher's internal/infrastructure/router.New, minus the tracing
// middleware (dropped per SPEC_FULL.md §12 — this rewrite keeps plain
// zerolog logging instead of an OpenTelemetry layer). A zero-value cfg
// falls back to a permissive "*" policy, matching the teacher's default.
func NewRouter(cfg CORSConfig) *chi.Mux {
	origins := cfg.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   cfg.AllowMethods,
		AllowedHeaders:   cfg.AllowHeaders,
		AllowCredentials: cfg.AllowCredentials,
	}).Handler)
	return r
}
