// Package server exposes the triage engine over HTTP: a chat endpoint in
// JSON and SSE shapes, a session metrics fetch, and a session reset.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tailored-agentic-units/empath/engine"
	"github.com/tailored-agentic-units/empath/observability"
)

// Server event types.
const (
	EventRequest     observability.EventType = "server.request"
	EventWriteFailed observability.EventType = "server.write.failed"
)

// Server routes HTTP requests to the engine.
type Server struct {
	engine   *engine.Engine
	observer observability.Observer
}

// New creates a Server. A nil observer defaults to the no-op observer.
func New(e *engine.Engine, observer observability.Observer) *Server {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Server{engine: e, observer: observer}
}

// Handler returns the server's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat", s.handleMetrics)
	mux.HandleFunc("DELETE /api/chat", s.handleReset)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Stream    bool   `json:"stream"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Valid message is required")
		return
	}

	s.emit(r, EventRequest, map[string]any{
		"method": r.Method, "session": req.SessionID, "stream": req.Stream,
	})

	if req.Stream {
		s.streamChat(w, r, req)
		return
	}

	result, err := s.engine.Chat(r.Context(), engine.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
	})
	if errors.Is(err, engine.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, "Valid message is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req chatRequest) {
	events, result, err := s.engine.ChatStream(r.Context(), engine.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
	})
	if errors.Is(err, engine.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, "Valid message is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}

	// No backend could construct a stream; the engine degraded to one
	// batch pass, answered as plain JSON.
	if events == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		// Drain so the turn finishes and the session stays consistent.
		for range events {
		}
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		frame, err := json.Marshal(ev)
		if err != nil {
			s.emit(r, EventWriteFailed, map[string]any{"error": err.Error()})
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			s.emit(r, EventWriteFailed, map[string]any{"error": err.Error()})
			// Keep draining; the engine needs the channel consumed to
			// finish the turn.
			continue
		}
		flusher.Flush()
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	raw, err := s.engine.Metrics(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch metrics")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = engine.DefaultSessionKey
	}

	if err := s.engine.Reset(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Session reset successfully",
		"sessionId": sessionID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) emit(r *http.Request, eventType observability.EventType, data map[string]any) {
	s.observer.OnEvent(r.Context(), observability.Event{
		Type:      eventType,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "server",
		Data:      data,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
