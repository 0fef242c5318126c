// Package api serves scan status and Prometheus metrics over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zsiec/satscan/internal/logging"
	"github.com/zsiec/satscan/internal/scan"
	"github.com/zsiec/satscan/internal/tuner"
)

// Scans is the lease view the API reads. *tuner.Manager implements it.
type Scans interface {
	List() []*tuner.Scan
	Get(id string) (*tuner.Scan, bool)
}

// Config wires the handler to its sources. Nil sources serve empty
// results; a nil Metrics handler leaves /metrics unrouted.
type Config struct {
	Scans    Scans
	Channels func() []scan.Channel
	Metrics  http.Handler
	Logger   *slog.Logger
}

// NewHandler returns the router for the status API.
func NewHandler(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &handler{cfg: cfg, log: log.With("component", "api")}

	r := chi.NewRouter()
	r.Use(logging.RequestLogger(h.log))
	r.Use(corsMiddleware)
	r.Route("/api", func(r chi.Router) {
		r.Get("/scans", h.listScans)
		r.Get("/scans/{id}", h.getScan)
		r.Get("/channels", h.listChannels)
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	return r
}

type handler struct {
	cfg Config
	log *slog.Logger
}

func (h *handler) listScans(w http.ResponseWriter, _ *http.Request) {
	resp := make([]tuner.Status, 0)
	if h.cfg.Scans != nil {
		for _, s := range h.cfg.Scans.List() {
			resp = append(resp, s.Status())
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.cfg.Scans == nil {
		h.writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	s, ok := h.cfg.Scans.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	h.writeJSON(w, http.StatusOK, s.Status())
}

func (h *handler) listChannels(w http.ResponseWriter, _ *http.Request) {
	var resp []scan.Channel
	if h.cfg.Channels != nil {
		resp = h.cfg.Channels()
	}
	if resp == nil {
		resp = make([]scan.Channel, 0)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encoding JSON response", "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}
