// Package opsapi exposes the crawl's operational surface: a JSON status
// endpoint, a liveness probe and a Prometheus scrape target, in the spirit of
// the crawl package's startAPI but routed with chi instead of gin.
package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kore-signet/evergarden/internal/pkg/stats"
)

// Server is the ops HTTP server. Job is included in the status payload so a
// dashboard scraping several crawls at once can tell them apart.
type Server struct {
	Job string

	http *http.Server
}

// New builds a Server bound to addr but does not start listening.
func New(addr, job string) *Server {
	registerCollectors()

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.Heartbeat("/healthz"))

	s := &Server{Job: job}

	r.Get("/", s.handleStatus)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// ListenAndServe blocks until the server stops or errors. Callers typically
// run it in its own goroutine and call Shutdown to stop it.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := stats.GetSnapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"job":              s.Job,
		"uri_per_second":   snap.URIPerSecond,
		"urls_fetched":     snap.URLsFetched,
		"urls_failed":      snap.URLsFailed,
		"bytes_stored":     snap.BytesStored,
		"fetcher_routines": snap.FetcherRoutines,
		"script_routines":  snap.ScriptRoutines,
		"elapsed_seconds":  snap.ElapsedSeconds,
	})
}

var registerOnce sync.Once

// registerCollectors wires Prometheus CounterFuncs and GaugeFuncs onto the stats package's
// accessors, so the /metrics scrape always reflects the live counters without
// the stats package needing to know Prometheus exists.
func registerCollectors() {
	registerOnce.Do(doRegisterCollectors)
}

func doRegisterCollectors() {
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "evergarden_urls_fetched_total",
		Help: "URLs successfully fetched.",
	}, func() float64 { return float64(stats.GetURLsFetched()) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "evergarden_urls_failed_total",
		Help: "URLs that failed to fetch.",
	}, func() float64 { return float64(stats.GetURLsFailed()) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "evergarden_bytes_stored_total",
		Help: "Bytes written to the archive.",
	}, func() float64 { return float64(stats.GetBytesStored()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "evergarden_fetcher_routines",
		Help: "Currently active fetcher goroutines.",
	}, func() float64 { return float64(stats.GetFetcherRoutines()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "evergarden_script_routines",
		Help: "Currently active scraper script goroutines.",
	}, func() float64 { return float64(stats.GetScriptRoutines()) })
}
