// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poller interface for triggering runs.
type Poller interface {
	Run(ctx context.Context) error
}

// IsBusy reports whether a Run error means another run was in progress.
type IsBusy func(error) bool

// Server handles HTTP requests.
type Server struct {
	poller   Poller
	isBusy   IsBusy
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	port     string
}

// Config holds server configuration.
type Config struct {
	Poller   Poller
	IsBusy   IsBusy
	Gatherer prometheus.Gatherer // Optional; /metrics is not served when nil
	Logger   *slog.Logger
	Port     string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	isBusy := cfg.IsBusy
	if isBusy == nil {
		isBusy = func(error) bool { return false }
	}
	return &Server{
		poller:   cfg.Poller,
		isBusy:   isBusy,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
		port:     cfg.Port,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute, // A /pollz run may dispatch many entries
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", s.port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
		return
	}
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered", "remote_addr", r.RemoteAddr)

	// A disconnecting caller must not abort a run halfway through its entries.
	if err := s.poller.Run(context.WithoutCancel(r.Context())); err != nil {
		if s.isBusy(err) {
			s.logger.Info("Poll skipped, run in progress")
			writeStatus(w, s.logger, http.StatusConflict, "busy")
			return
		}
		s.logger.Error("Poll run failed", "error", err)
		http.Error(w, "Run failed", http.StatusInternalServerError)
		return
	}

	writeStatus(w, s.logger, http.StatusOK, "completed")
}

func writeStatus(w http.ResponseWriter, logger *slog.Logger, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := fmt.Fprintf(w, `{"status":%q}`, status); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}
