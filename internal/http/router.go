package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transcription-relay/internal/service/relay"
)

// ClientStatus describes one connected relay client.
type ClientStatus struct {
	relay.ActivityRecord
	IdleSeconds    float64 `json:"idleSeconds"`
	SessionSeconds float64 `json:"sessionSeconds"`
}

// NewRouter constructs the HTTP router for the relay. ready reports whether
// the process should receive traffic; nil means always ready.
func NewRouter(relaySrv *relay.Server, ready func() bool) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Client sockets
	r.Get("/ws", relaySrv.ServeHTTP)
	r.Get("/", relaySrv.ServeHTTP)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/clients", func(w http.ResponseWriter, _ *http.Request) {
			now := time.Now()
			records := relaySrv.Registry().Snapshot()
			out := make([]ClientStatus, 0, len(records))
			for _, rec := range records {
				out = append(out, ClientStatus{
					ActivityRecord: rec,
					IdleSeconds:    now.Sub(rec.LastActivity).Seconds(),
					SessionSeconds: now.Sub(rec.SessionStart).Seconds(),
				})
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"count":   len(out),
				"clients": out,
			})
		})
	})

	return r
}
