// Package server is the operator HTTP surface: liveness, Prometheus scrape
// and the committed watermark.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkiv/checkpoint-committer/internal/watermark"
)

type httpMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP requests"},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "Request latency", Buckets: prometheus.DefBuckets},
			[]string{"method", "route"},
		),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration)
	return m
}

// Server serves the ops endpoints.
type Server struct {
	srv      *http.Server
	requests *httpMetrics
	logger   *slog.Logger

	// mu guards watcher; a Watcher is not for concurrent use.
	mu      sync.Mutex
	watcher *watermark.Watcher
}

// New builds the server. It owns w and closes it on Shutdown.
func New(addr string, reg prometheus.Registerer, gatherer prometheus.Gatherer, w *watermark.Watcher, logger *slog.Logger) *Server {
	s := &Server{logger: logger.With("component", "server"), watcher: w}
	s.requests = newHTTPMetrics(reg)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/watermark", s.handleWatermark).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.requests.instrument(r),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.watcher.Close()
	return s.srv.Shutdown(ctx)
}

type watermarkResponse struct {
	Committed bool    `json:"committed"`
	Sequence  *uint64 `json:"checkpoint,omitempty"`
}

func (s *Server) handleWatermark(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	seq, ok := s.watcher.Latest()
	s.mu.Unlock()

	resp := watermarkResponse{Committed: ok}
	if ok {
		resp.Sequence = &seq
	}
	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response", "err", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, "ok")
}

// unmatchedRoute labels requests no route accepted, keeping the path label
// bounded to the routes the router knows.
const unmatchedRoute = "unmatched"

// routeLabel returns the template of the route r matches.
func routeLabel(router *mux.Router, r *http.Request) string {
	var match mux.RouteMatch
	if !router.Match(r, &match) || match.Route == nil {
		return unmatchedRoute
	}
	tmpl, err := match.Route.GetPathTemplate()
	if err != nil {
		return unmatchedRoute
	}
	return tmpl
}

// instrument counts and times every request by route template and status
// class.
func (m *httpMetrics) instrument(router *mux.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeLabel(router, r)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		router.ServeHTTP(rec, r)
		m.requestsTotal.WithLabelValues(r.Method, route, statusClass(rec.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder keeps the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
