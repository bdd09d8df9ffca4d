// Package gateway exposes the turn pipeline over HTTP: submit a message,
// inspect a turn, resolve approvals.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/medsentry/medsentry/internal/approval"
	"github.com/medsentry/medsentry/internal/bus"
	"github.com/medsentry/medsentry/internal/config"
	"github.com/medsentry/medsentry/internal/metrics"
	"github.com/medsentry/medsentry/internal/turn"
	"github.com/medsentry/medsentry/internal/version"
)

// TurnService is the slice of the orchestrator the gateway calls.
type TurnService interface {
	SubmitMessage(ctx context.Context, turnID, userText string) (*turn.Turn, error)
	Resolve(ctx context.Context, requestID string, approve bool, decision approval.DecisionInput) (*turn.Turn, error)
	Cancel(turnID, reason string) (*turn.Turn, error)
	Get(turnID string) (*turn.Turn, error)
}

// ApprovalLister lists approval requests for the operator surface.
type ApprovalLister interface {
	List(query approval.Query) ([]approval.Request, error)
}

// Server is the HTTP gateway.
type Server struct {
	cfg        config.GatewayConfig
	turns      TurnService
	approvals  ApprovalLister
	metrics    *metrics.RuntimeMetrics
	httpServer *http.Server
}

// New creates a gateway server. Host defaults to 0.0.0.0, port to 18890.
func New(cfg config.GatewayConfig, turns TurnService, approvals ApprovalLister, recorder *metrics.RuntimeMetrics) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18890
	}

	cfg.Host = host
	cfg.Port = port
	return &Server{
		cfg:       cfg,
		turns:     turns,
		approvals: approvals,
		metrics:   recorder,
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler builds the chi router. Health and version are open; everything
// else requires the bearer token when one is configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/turns", s.handleSubmitTurn)
		r.Get("/turns/{id}", s.handleGetTurn)
		r.Post("/turns/{id}/cancel", s.handleCancelTurn)
		r.Get("/approvals", s.handleListApprovals)
		r.Post("/approvals/{id}/resolve", s.handleResolveApproval)
	})

	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(s.cfg.Token) != "" && !isAuthorized(r, s.cfg.Token) {
			writeError(w, getRequestID(r), http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":     "ok",
		"request_id": getRequestID(r),
	}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		payload["turns"] = snap.Turn
		payload["guards"] = snap.Guard
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    version.Version,
		"request_id": getRequestID(r),
	})
}

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)

	var req struct {
		Message string `json:"message"`
		TurnID  string `json:"turn_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "message is required")
		return
	}

	ctx := bus.WithRequestID(r.Context(), requestID)
	t, err := s.turns.SubmitMessage(ctx, strings.TrimSpace(req.TurnID), req.Message)
	if err != nil {
		slog.Error("gateway submit turn failed", "request_id", requestID, "error", err)
		writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to process turn")
		return
	}
	writeTurn(w, requestID, http.StatusOK, t)
}

func (s *Server) handleGetTurn(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	t, err := s.turns.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, turn.ErrTurnNotFound) {
			writeError(w, requestID, http.StatusNotFound, "not_found", "turn not found")
			return
		}
		writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to load turn")
		return
	}
	writeTurn(w, requestID, http.StatusOK, t)
}

func (s *Server) handleCancelTurn(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	t, err := s.turns.Cancel(chi.URLParam(r, "id"), strings.TrimSpace(req.Reason))
	if err != nil {
		switch {
		case errors.Is(err, turn.ErrTurnNotFound):
			writeError(w, requestID, http.StatusNotFound, "not_found", "turn not found")
		case errors.Is(err, turn.ErrTerminal):
			writeError(w, requestID, http.StatusConflict, "terminal", "turn already reached a terminal phase")
		default:
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to cancel turn")
		}
		return
	}
	writeTurn(w, requestID, http.StatusOK, t)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)

	query := approval.Query{
		TurnID: strings.TrimSpace(r.URL.Query().Get("turn_id")),
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		query.Status = approval.RequestStatus(status)
	} else {
		query.Status = approval.StatusPending
	}

	requests, err := s.approvals.List(query)
	if err != nil {
		writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to list approvals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approvals":  requests,
		"request_id": requestID,
	})
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)

	var req struct {
		Decision  string `json:"decision"`
		DecidedBy string `json:"decided_by"`
		Note      string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
		return
	}

	var approve bool
	switch strings.ToLower(strings.TrimSpace(req.Decision)) {
	case "approve":
		approve = true
	case "reject":
		approve = false
	default:
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "decision must be approve or reject")
		return
	}

	decidedBy := strings.TrimSpace(req.DecidedBy)
	if decidedBy == "" {
		decidedBy = "api"
	}

	ctx := bus.WithRequestID(r.Context(), requestID)
	t, err := s.turns.Resolve(ctx, chi.URLParam(r, "id"), approve, approval.DecisionInput{
		DecidedBy: decidedBy,
		Note:      strings.TrimSpace(req.Note),
	})
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrNotFound):
			writeError(w, requestID, http.StatusNotFound, "not_found", "approval request not found")
		case errors.Is(err, approval.ErrInvalidState):
			writeError(w, requestID, http.StatusConflict, "invalid_state", "approval request already resolved")
		case errors.Is(err, approval.ErrExpired):
			writeError(w, requestID, http.StatusConflict, "expired", "approval request expired before the decision")
		default:
			slog.Error("gateway resolve approval failed", "request_id", requestID, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to resolve approval")
		}
		return
	}
	writeTurn(w, requestID, http.StatusOK, t)
}

func writeTurn(w http.ResponseWriter, requestID string, status int, t *turn.Turn) {
	writeJSON(w, status, map[string]any{
		"turn":       t,
		"request_id": requestID,
	})
}

func isAuthorized(r *http.Request, expected string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	if got == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(got, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(got, prefix))
	return token == expected
}

func getRequestID(r *http.Request) string {
	rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if rid != "" {
		return rid
	}
	return bus.NewRequestID()
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
