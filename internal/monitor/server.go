package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/logging"
)

// Server exposes the monitoring HTTP surface:
//
//	GET /health               global roll-up across every queue
//	GET /health/{queue}       report for one queue
//	GET /metrics              Prometheus scrape endpoint
type Server struct {
	checker  *Checker
	registry *prometheus.Registry
	log      logging.Logger
	srv      *http.Server
}

// NewServer wires the router. The registry must be the one the broker
// metrics were registered on.
func NewServer(addr string, checker *Checker, registry *prometheus.Registry, log logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{checker: checker, registry: registry, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/health/{queue}", s.handleQueueHealth)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("monitor listening", logging.Fields{"addr": s.srv.Addr})
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.checker.Check(r.Context())
	if err != nil {
		s.log.Error("health check failed", err, nil)
		http.Error(w, "health check failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, statusCode(report.Severity), report)
}

func (s *Server) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	report, err := s.checker.Check(r.Context())
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			http.Error(w, "unknown queue", http.StatusNotFound)
			return
		}
		s.log.Error("health check failed", err, logging.Fields{"queue": queue})
		http.Error(w, "health check failed", http.StatusInternalServerError)
		return
	}
	for _, qh := range report.Queues {
		if qh.Queue == queue {
			s.writeJSON(w, statusCode(qh.Severity), qh)
			return
		}
	}
	http.Error(w, "unknown queue", http.StatusNotFound)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("could not write response", err, nil)
	}
}

// statusCode maps a severity to the HTTP status probes expect: anything
// but ERROR still answers 200 so a warning does not flap load balancers.
func statusCode(sev Severity) int {
	if sev == SeverityError {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
