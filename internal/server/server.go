package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

type (
	Response struct {
		Message string `json:"message"`
	}

	// Server exposes metrics and health endpoints for the autoscaler. It serves no scaling
	// operations; the scaling loop runs independently of it.
	Server struct {
		logger *zap.Logger
		addr   string
		// healthy reports whether the scaling loop is currently succeeding.
		healthy func() bool
	}
)

func New(logger *zap.Logger, addr string, healthy func() bool) *Server {
	return &Server{
		logger:  logger.Named("server"),
		addr:    addr,
		healthy: healthy,
	}
}

// Handler returns the router with every endpoint registered.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	sentryHandler := sentryhttp.New(sentryhttp.Options{})
	r.Handle("/metrics", sentryHandler.Handle(promhttp.Handler())).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.livenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readinessHandler).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Could not gracefully shutdown the server", zap.Error(err))
		}
	}()

	s.logger.Info("Starting server", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Failed to start server", zap.Error(err))
		return err
	}

	<-done
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) livenessHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, Response{Message: "ok"})
}

func (s *Server) readinessHandler(w http.ResponseWriter, _ *http.Request) {
	if s.healthy != nil && !s.healthy() {
		s.writeJSON(w, http.StatusServiceUnavailable, Response{Message: "last scaling tick failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Message: "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body Response) {
	jsonResponse, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to marshal response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonResponse); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}
