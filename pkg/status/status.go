// Copyright 2025 Certen Protocol
//
// Package status serves the small healthz/readyz/status JSON documents
// every daemon exposes, backed by a registry of named checks any of the
// three daemons (sequencer, relayer, conductor) can populate.
package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CheckFunc reports whether a named dependency or subsystem is
// currently healthy. Returning a non-nil error marks it unhealthy and
// includes the error text in the status document.
type CheckFunc func() error

// Server exposes /healthz, /readyz and /status over HTTP, backed by a
// registry of named checks and a free-form metrics snapshot function.
type Server struct {
	mu        sync.RWMutex
	component string
	startTime time.Time
	checks    map[string]CheckFunc
	metricsFn func() map[string]any

	registry *prometheus.Registry
}

// New constructs a Server for the named component ("sequencer",
// "relayer", "conductor").
func New(component string) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return &Server{
		component: component,
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
		registry:  reg,
	}
}

// Registry exposes the underlying prometheus registry so callers can
// register component-specific counters/gauges.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// RegisterCheck adds a named readiness check. All registered checks
// must pass for /readyz to report ready.
func (s *Server) RegisterCheck(name string, f CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = f
}

// SetMetricsFn installs a callback whose returned map is embedded
// verbatim under the "metrics" key of /status's JSON document.
func (s *Server) SetMetricsFn(f func() map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsFn = f
}

type healthDoc struct {
	Status        string `json:"status"`
	Component     string `json:"component"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type readyDoc struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

type statusDoc struct {
	Component     string         `json:"component"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Ready         bool           `json:"ready"`
	Metrics       map[string]any `json:"metrics,omitempty"`
}

func (s *Server) uptime() int64 {
	return int64(time.Since(s.startTime).Seconds())
}

// runChecks evaluates every registered check, returning per-name
// "ok"/error strings and whether all passed.
func (s *Server) runChecks() (map[string]string, bool) {
	s.mu.RLock()
	checks := make(map[string]CheckFunc, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()

	results := make(map[string]string, len(checks))
	allOK := true
	for name, check := range checks {
		if err := check(); err != nil {
			results[name] = err.Error()
			allOK = false
		} else {
			results[name] = "ok"
		}
	}
	return results, allOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthDoc{
		Status:        "ok",
		Component:     s.component,
		UptimeSeconds: s.uptime(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	results, ok := s.runChecks()
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, readyDoc{Ready: ok, Checks: results})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, ready := s.runChecks()
	s.mu.RLock()
	metricsFn := s.metricsFn
	s.mu.RUnlock()

	var metrics map[string]any
	if metricsFn != nil {
		metrics = metricsFn()
	}
	writeJSON(w, http.StatusOK, statusDoc{
		Component:     s.component,
		UptimeSeconds: s.uptime(),
		Ready:         ready,
		Metrics:       metrics,
	})
}

// Mux builds the http.Handler serving /healthz, /readyz, /status and
// /metrics.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe blocks serving the status mux on addr until the
// server returns an error; it offers no way to shut the server down.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.Mux())
}
