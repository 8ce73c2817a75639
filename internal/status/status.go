// Package status serves the aggregator's read-only HTTP status API: a
// liveness probe and a JSON view of every admitted host with its daemons and
// current alarms.
package status

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Daemon is one monitored daemon in a host view.
type Daemon struct {
	Name      string `json:"name"`
	Processes int    `json:"processes"`
	Alarm     string `json:"alarm,omitempty"`
}

// Host is the status view of one admitted host.
type Host struct {
	Name      string   `json:"name"`
	OS        string   `json:"os"`
	Release   string   `json:"release"`
	Processes int      `json:"processes"`
	CPUUsage  uint     `json:"cpu_usage"`
	Alarm     string   `json:"alarm,omitempty"`
	Page      bool     `json:"page,omitempty"`
	Daemons   []Daemon `json:"daemons,omitempty"`
}

// Source produces host views. The hub implements it over its event loop.
type Source interface {
	Snapshot(ctx context.Context) ([]Host, error)
}

// NewRouter returns the status API router.
//
// Route layout:
//
//	GET /healthz            – liveness probe (no authentication required)
//	GET /api/hosts          – all host status views (JWT required when pubKey is set)
//	GET /api/hosts/{host}   – one host's status view
//
// Pass a nil pubKey to disable JWT validation.
func NewRouter(src Source, pubKey *rsa.PublicKey, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealthz)

	r.Route("/api", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey, logger))
		}
		r.Get("/hosts", handleHosts(src, logger))
		r.Get("/hosts/{host}", handleHost(src, logger))
	})

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleHosts(src Source, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hosts, err := src.Snapshot(r.Context())
		if err != nil {
			logger.Error("snapshot failed", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "snapshot unavailable")
			return
		}
		if hosts == nil {
			hosts = []Host{}
		}
		writeJSON(w, http.StatusOK, hosts)
	}
}

func handleHost(src Source, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hosts, err := src.Snapshot(r.Context())
		if err != nil {
			logger.Error("snapshot failed", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "snapshot unavailable")
			return
		}
		name := chi.URLParam(r, "host")
		for _, h := range hosts {
			if h.Name == name {
				writeJSON(w, http.StatusOK, h)
				return
			}
		}
		writeJSONError(w, http.StatusNotFound, "unknown host")
	}
}

// writeJSON writes v as a JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes an HTTP error response with a JSON body.
func writeJSONError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"error": detail})
}
