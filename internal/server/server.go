// Package server exposes the action pipeline over HTTP: the action
// endpoint itself plus the operational endpoints around it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/auth"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/messagebus"
	"github.com/plenumhq/plenum/internal/perm"
)

const maxBodyBytes = 1 << 20 // 1MB

// Server handles HTTP requests for the action endpoint.
type Server struct {
	handler    *action.Handler
	auth       *auth.Service
	bus        *messagebus.Publisher
	log        zerolog.Logger
	timeout    time.Duration
	ready      atomic.Bool
	mux        *http.ServeMux
	httpServer *http.Server
}

// Config holds the server dependencies.
type Config struct {
	Handler *action.Handler
	// Auth resolves the acting user. A nil Auth lets every request pass
	// as the anonymous user; only tests run that way.
	Auth *auth.Service
	// Bus is the optional write notification publisher.
	Bus *messagebus.Publisher
	Log zerolog.Logger
	// RequestTimeout bounds one action request end to end. Zero means no
	// limit beyond the connection timeouts.
	RequestTimeout time.Duration
}

// NewServer wires the routes. Method patterns keep everything but POST off
// the action endpoint; the mux answers those with 405 itself.
func NewServer(cfg Config) *Server {
	s := &Server{
		handler: cfg.Handler,
		auth:    cfg.Auth,
		bus:     cfg.Bus,
		log:     cfg.Log,
		timeout: cfg.RequestTimeout,
		mux:     http.NewServeMux(),
	}
	s.ready.Store(true)

	s.mux.HandleFunc("POST /{$}", s.handleAction)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown flips the readiness probe so load balancers drain the instance,
// then waits for running requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the middleware-wrapped handler for use with custom
// servers and tests.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		s.recoveryMiddleware,
		requestIDMiddleware,
		s.loggingMiddleware,
		metricsMiddleware,
		otelMiddleware,
	)
}

// handleAction handles POST /: authenticate, run the batch, answer with
// the message envelope.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	userID := 0
	if s.auth != nil {
		var cookie string
		if c, err := r.Cookie(auth.CookieName); err == nil {
			cookie = c.Value
		}
		var newToken string
		var err error
		userID, newToken, err = s.auth.Authenticate(ctx, r.Header.Get(auth.TokenHeader), cookie)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if newToken != "" {
			w.Header().Set(auth.TokenHeader, newToken)
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "The request body could not be read.")
		return
	}

	result, err := s.handler.Handle(ctx, body, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	for _, name := range result.Actions {
		actionsTotal.WithLabelValues(name).Inc()
	}
	for _, event := range result.Written {
		writeEventsTotal.WithLabelValues(string(event.Type)).Inc()
	}
	s.publish(ctx, result)

	writeMessage(w, http.StatusOK, "Action handled successfully")
}

// publish tells the message bus about the committed events. The write is
// durable at this point; a bus failure only costs push latency downstream.
func (s *Server) publish(ctx context.Context, result *action.Result) {
	if s.bus == nil || len(result.Written) == 0 {
		return
	}
	modified := make([]messagebus.Modified, len(result.Written))
	for i, event := range result.Written {
		modified[i] = messagebus.Modified{FQID: event.FQID.String(), Kind: string(event.Type)}
	}
	if err := s.bus.Publish(ctx, modified); err != nil {
		l := s.logFor(ctx)
		l.Warn().Err(err).Msg("publishing modified fields")
	}
}

// handleHealth answers liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReady answers readiness probes, 503 once Shutdown has started.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeMessage(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError maps domain errors onto status codes. Messages of expected
// failures go to the client verbatim, everything else hides behind a
// generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		l := s.logFor(r.Context())
		l.Error().Err(err).Msg("request failed")
		writeMessage(w, status, "Internal server error.")
		return
	}
	if errors.Is(err, datastore.ErrLocked) {
		lockRejectsTotal.Inc()
	}
	l := s.logFor(r.Context())
	l.Debug().Err(err).Int("status", status).Msg("request rejected")
	writeMessage(w, status, err.Error())
}

func statusOf(err error) int {
	var schemaErr action.SchemaError
	var actionErr action.Error
	var notAllowed action.NotAllowedError
	var missing perm.MissingPermission
	var authErr auth.AuthError
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &notAllowed), errors.As(err, &missing):
		return http.StatusForbidden
	case errors.As(err, &schemaErr), errors.As(err, &actionErr):
		return http.StatusBadRequest
	case errors.Is(err, datastore.ErrNotFound), errors.Is(err, datastore.ErrLocked):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeMessage writes the JSON message envelope every response uses.
func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
