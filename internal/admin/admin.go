// Package admin implements the optional administrative HTTP surface:
// health check, Prometheus metrics, and a JSON cache snapshot, mounted on
// a listener separate from the data-plane proxy — the same shape as the
// teacher's own admin.go, which mounts an administrative API independently
// of the data-plane listeners.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/larkspur-labs/proxycache/internal/cache"
)

// ActivityGauges reports live counts a Loop tracks, decoupling this
// package from internal/proxyrun so metrics collection cannot create an
// import cycle.
type ActivityGauges interface {
	ActiveClients() int64
	ActiveTunnels() int64
}

// Server is the admin HTTP surface: /healthz, /metrics, /cache.
type Server struct {
	cache *cache.Cache
	ready bool
	mux   *chi.Mux
}

// New builds a Server over cache, registering a Prometheus collector that
// reads the cache's and loop's counters lazily at scrape time rather than
// mirroring them into separate counter vars, since the cache and loop
// already are the source of truth.
func New(c *cache.Cache, activity ActivityGauges) *Server {
	s := &Server{cache: c, ready: true, mux: chi.NewRouter()}

	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(c, activity))

	s.mux.Get("/healthz", s.handleHealthz)
	s.mux.Get("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP)
	s.mux.Get("/cache", s.handleCache)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type cacheEntryView struct {
	Key        string  `json:"key"`
	AgeSeconds float64 `json:"age_seconds"`
	AgeHuman   string  `json:"age_human"`
	Stale      bool    `json:"stale"`
	Retrieved  bool    `json:"retrieved"`
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Snapshot()
	out := make([]cacheEntryView, len(snap))
	for i, e := range snap {
		out[i] = cacheEntryView{
			Key:        e.Key,
			AgeSeconds: e.AgeSeconds,
			AgeHuman:   humanize.Time(time.Now().Add(-time.Duration(e.AgeSeconds * float64(time.Second)))),
			Stale:      e.Stale,
			Retrieved:  e.Retrieved,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
