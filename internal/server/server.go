// Package server is the thin HTTP shell over the orchestration core:
// request validation, session resolution, and the two chat endpoints
// (REST and event stream).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/agent"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/observability"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/sessions"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/stream"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/pkg/models"
)

// maxMessageLen bounds the user message.
const maxMessageLen = 2000

// sessionIDPattern is the canonical lowercase v4 UUID shape. Session
// ids are server-issued; anything else is rejected.
var sessionIDPattern = regexp.MustCompile(
	`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// Pinger reports document store reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	orchestrator *agent.Orchestrator
	sessions     *sessions.Store
	db           Pinger
	logger       *slog.Logger
	metrics      *observability.Metrics

	corsOrigin     string
	requestTimeout time.Duration
}

// New builds the server.
func New(orchestrator *agent.Orchestrator, sessionStore *sessions.Store, db Pinger, metrics *observability.Metrics, logger *slog.Logger, corsOrigin string, requestTimeout time.Duration) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 180 * time.Second
	}
	return &Server{
		orchestrator:   orchestrator,
		sessions:       sessionStore,
		db:             db,
		logger:         logger.With("component", "server"),
		metrics:        metrics,
		corsOrigin:     corsOrigin,
		requestTimeout: requestTimeout,
	}
}

// Handler assembles the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.instrument("/chat", s.handleChat))
	mux.HandleFunc("POST /chat/stream", s.instrument("/chat/stream", s.handleChatStream))
	mux.HandleFunc("GET /health", s.instrument("/health", s.handleHealth))
	mux.Handle("GET /metrics", promhttp.Handler())
	return s.cors(mux)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type chatResponse struct {
	Response  string                `json:"response"`
	SessionID string                `json:"sessionId"`
	ToolCalls []models.ToolCallInfo `json:"toolCalls"`
	Timestamp string                `json:"timestamp"`
}

// handleChat is the REST variant: the same loop, no streaming, one JSON
// object built from the audit trail.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, sessionID, history, ok := s.prepare(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	result, err := s.orchestrator.Respond(ctx, req.Message, history, nil)
	if err != nil {
		s.logger.Error("chat request failed", "session", sessionID, "error", err)
		s.writeError(w, statusForError(err), "processing failed")
		return
	}

	s.sessions.Set(sessionID, agent.TrimHistory(result.History))

	toolCalls := result.ToolCalls
	if toolCalls == nil {
		toolCalls = []models.ToolCallInfo{}
	}
	s.writeJSON(w, http.StatusOK, chatResponse{
		Response:  result.Answer,
		SessionID: sessionID,
		ToolCalls: toolCalls,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleChatStream is the event-stream variant. Client disconnect stops
// the writes but not the orchestration: the session is persisted with
// its full audit either way.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, sessionID, history, ok := s.prepare(w, r)
	if !ok {
		return
	}

	sse, ok := stream.NewSSEWriter(w, r, s.logger)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	defer sse.Close()

	sse.Send(stream.Connected(sessionID))

	// Detach from the client's cancellation so a dropped connection
	// does not abort tool calls mid-flight; the request timeout still
	// bounds the work.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.requestTimeout)
	defer cancel()

	result, err := s.orchestrator.Respond(ctx, req.Message, history, sse.Send)
	if err != nil {
		s.logger.Error("stream request failed", "session", sessionID, "error", err)
		sse.Send(stream.Error(errorMessage(err)))
		return
	}

	s.sessions.Set(sessionID, agent.TrimHistory(result.History))
	sse.Send(stream.Session(sessionID))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "ok"
	status := "ok"
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			dbStatus = "unreachable"
			status = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"sessions": s.sessions.Count(),
		"db":       dbStatus,
	})
}

// prepare decodes and validates the request and resolves the session.
func (s *Server) prepare(w http.ResponseWriter, r *http.Request) (chatRequest, string, []models.Turn, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, "", nil, false
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return req, "", nil, false
	}
	if utf8.RuneCountInString(req.Message) > maxMessageLen {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("message exceeds %d characters", maxMessageLen))
		return req, "", nil, false
	}

	var history []models.Turn
	sessionID := req.SessionID
	if sessionID != "" {
		if !sessionIDPattern.MatchString(sessionID) {
			s.writeError(w, http.StatusBadRequest, "invalid session id")
			return req, "", nil, false
		}
		if h, ok := s.sessions.Get(sessionID); ok {
			history = h
		} else {
			// Unknown or expired: issue a fresh session rather than
			// adopting a client-supplied id.
			sessionID = ""
		}
	}
	if sessionID == "" {
		sessionID = s.sessions.Create()
	}
	return req, sessionID, history, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(
				r.Method, path, strconv.Itoa(recorder.status)).Inc()
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE path working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func statusForError(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return "processing failed"
	}
}
