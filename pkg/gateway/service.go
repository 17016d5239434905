// Package gateway is the HTTP surface in front of the interaction processor.
// It resolves the caller, records conversation turns and reports health.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"parley/pkg/config"
	"parley/pkg/events"
	"parley/pkg/history"
	"parley/pkg/interaction"
)

const (
	defaultHost = "0.0.0.0"
	defaultPort = 8080

	// UserIDHeader carries the caller identity resolved by an upstream proxy.
	UserIDHeader = "X-User-ID"

	checkTimeout   = 2 * time.Second
	maxRequestBody = 1 << 20
)

type Processor interface {
	ProcessUserMessage(ctx context.Context, req interaction.Request) (interaction.Result, error)
	StartSession(ctx context.Context, req interaction.SessionRequest) (interaction.SessionResult, error)
	EndSession(ctx context.Context, req interaction.SessionRequest) (interaction.SessionResult, error)
}

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

type Service struct {
	cfg       config.GatewayConfig
	processor Processor
	turns     history.TurnWriter
	checks    map[string]Check
	log       *slog.Logger

	mu        sync.RWMutex
	startedAt time.Time
}

type statusResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewService wires the processor behind HTTP. turns may be nil, in which case
// conversation history is never recorded.
func NewService(cfg config.GatewayConfig, processor Processor, turns history.TurnWriter, checks map[string]Check, log *slog.Logger) (*Service, error) {
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:       cfg,
		processor: processor,
		turns:     turns,
		checks:    checks,
		log:       log.With("component", "gateway.service"),
		startedAt: time.Now().UTC(),
	}, nil
}

func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/interactions", s.handleInteraction)
		r.Post("/sessions", s.handleStartSession)
		r.Delete("/sessions/{sessionID}", s.handleEndSession)
	})

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultHost
	}
	port := s.cfg.Port
	if port <= 0 {
		port = defaultPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start gateway server: %w", err)
	}
	return nil
}

type interactionRequest struct {
	UserID          string        `json:"user_id"`
	SessionID       string        `json:"session_id"`
	Message         string        `json:"message"`
	InteractionType string        `json:"interaction_type"`
	Metadata        events.Fields `json:"metadata"`
}

func (s *Service) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var body interactionRequest
	if !s.decode(w, r, &body) {
		return
	}

	interactionType := strings.ToLower(strings.TrimSpace(body.InteractionType))
	if interactionType == "" {
		interactionType = string(events.InteractionText)
	}

	req := interaction.Request{
		UserID:          resolveUserID(r, body.UserID),
		SessionID:       body.SessionID,
		Message:         body.Message,
		InteractionType: events.InteractionType(interactionType),
		Metadata:        body.Metadata,
	}

	result, err := s.processor.ProcessUserMessage(r.Context(), req)
	if err != nil {
		s.respondError(w, statusForError(err), err)
		return
	}

	if result.Status == interaction.StatusOK {
		s.recordTurns(r.Context(), req, result)
	}
	s.respondJSON(w, result.Status, result)
}

// recordTurns appends the exchange to history after a successful reply.
// Failures only cost future context, so they are logged.
func (s *Service) recordTurns(ctx context.Context, req interaction.Request, result interaction.Result) {
	if s.turns == nil {
		return
	}
	if err := history.RecordExchange(ctx, s.turns, req.SessionID, req.Message, result.ResponseText); err != nil {
		s.log.Warn("Failed to record conversation turns", "session_id", req.SessionID, "error", err)
	}
}

type sessionRequest struct {
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	Metadata  events.Fields `json:"metadata"`
}

func (s *Service) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body sessionRequest
	if !s.decode(w, r, &body) {
		return
	}

	result, err := s.processor.StartSession(r.Context(), interaction.SessionRequest{
		UserID:    resolveUserID(r, body.UserID),
		SessionID: body.SessionID,
		Metadata:  body.Metadata,
	})
	if err != nil {
		s.respondError(w, statusForError(err), err)
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

func (s *Service) handleEndSession(w http.ResponseWriter, r *http.Request) {
	result, err := s.processor.EndSession(r.Context(), interaction.SessionRequest{
		UserID:    resolveUserID(r, ""),
		SessionID: chi.URLParam(r, "sessionID"),
	})
	if err != nil {
		s.respondError(w, statusForError(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.status("ok", nil))
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	results, ready := s.runChecks(r.Context())
	if !ready {
		s.respondJSON(w, http.StatusServiceUnavailable, s.status("not_ready", results))
		return
	}
	s.respondJSON(w, http.StatusOK, s.status("ready", results))
}

func (s *Service) runChecks(ctx context.Context) (map[string]string, bool) {
	if len(s.checks) == 0 {
		return nil, true
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	results := make(map[string]string, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.checks[name](checkCtx)
		cancel()

		if err != nil {
			ready = false
			results[name] = err.Error()
			s.log.Warn("Readiness check failed", "dependency", name, "error", err)
			continue
		}
		results[name] = "ok"
	}
	return results, ready
}

func (s *Service) status(status string, checks map[string]string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return statusResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Checks:        checks,
	}
}

func (s *Service) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// resolveUserID prefers the upstream identity header over the body.
func resolveUserID(r *http.Request, fallback string) string {
	if header := strings.TrimSpace(r.Header.Get(UserIDHeader)); header != "" {
		return header
	}
	return strings.TrimSpace(fallback)
}

func statusForError(err error) int {
	if events.IsValidationError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Service) respondError(w http.ResponseWriter, status int, err error) {
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "error", err)
		message = http.StatusText(status)
	}
	s.respondJSON(w, status, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}
}
