package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tailored-agentic-units/empath/classify"
	"github.com/tailored-agentic-units/empath/core/protocol"
	"github.com/tailored-agentic-units/empath/engine"
	"github.com/tailored-agentic-units/empath/generate"
	"github.com/tailored-agentic-units/empath/observability"
	"github.com/tailored-agentic-units/empath/retry"
	"github.com/tailored-agentic-units/empath/server"
	"github.com/tailored-agentic-units/empath/session"
	"github.com/tailored-agentic-units/empath/triage"
)

type stubEmotion struct {
	result classify.EmotionResult
}

func (s *stubEmotion) Classify(_ context.Context, _, _ string) (classify.EmotionResult, error) {
	return s.result, nil
}

func (s *stubEmotion) SessionState(_ context.Context, _ string) (json.RawMessage, error) {
	return json.RawMessage(`{"intent":"stress","severity":2.1}`), nil
}

func (s *stubEmotion) ResetSession(_ context.Context, _ string) error { return nil }

type stubBackend struct {
	text   string
	deltas []string
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Complete(_ context.Context, _ []protocol.Message) (string, error) {
	return b.text, nil
}

func (b *stubBackend) Stream(_ context.Context, _ []protocol.Message) (*generate.Stream, error) {
	deltas := make(chan string, len(b.deltas))
	errc := make(chan error, 1)
	for _, d := range b.deltas {
		deltas <- d
	}
	close(deltas)
	return generate.NewStream("stub", deltas, errc), nil
}

func newTestHandler(t *testing.T, intent string, backend *stubBackend) http.Handler {
	t.Helper()

	obs := observability.NoOpObserver{}
	gw := classify.NewGateway(classify.DefaultConfig(), obs).Apply(
		classify.WithEmotionClassifier(&stubEmotion{result: classify.EmotionResult{
			SessionID:  "remote-1",
			Intent:     intent,
			Confidence: 0.8,
		}}),
		classify.WithRetryPolicy(retry.Policy{
			MaxAttempts:    1,
			Backoff:        retry.Exponential(time.Millisecond),
			AttemptTimeout: time.Second,
		}),
	)

	cfg := engine.DefaultConfig()
	e, err := engine.New(&cfg,
		engine.WithStore(session.NewMemoryStore()),
		engine.WithGateway(gw),
		engine.WithCascade(generate.NewCascade(obs, backend)),
		engine.WithObserver(obs),
	)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}

	return server.New(e, obs).Handler()
}

func postChat(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint_JSON(t *testing.T) {
	handler := newTestHandler(t, "stress", &stubBackend{text: "One step at a time."})

	rec := postChat(t, handler, `{"message": "busy week", "sessionId": "alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var result engine.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("response did not decode: %v", err)
	}
	if result.Response != "One step at a time." {
		t.Errorf("response = %q", result.Response)
	}
	if result.Metrics.Emotion.Mode != triage.ModeSupportive {
		t.Errorf("mode = %q, want supportive", result.Metrics.Emotion.Mode)
	}
}

func TestChatEndpoint_RejectsInvalidMessage(t *testing.T) {
	handler := newTestHandler(t, "stress", &stubBackend{text: "unused"})

	for name, body := range map[string]string{
		"empty":      `{"message": ""}`,
		"whitespace": `{"message": "   "}`,
		"absent":     `{"sessionId": "alice"}`,
		"not json":   `message`,
	} {
		rec := postChat(t, handler, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
		var errBody map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &errBody); err != nil || errBody["error"] == "" {
			t.Errorf("%s: error body = %s", name, rec.Body)
		}
	}
}

func decodeFrames(t *testing.T, body string) []engine.Event {
	t.Helper()

	var events []engine.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev engine.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("frame did not decode: %v: %q", err, line)
		}
		events = append(events, ev)
	}
	return events
}

func TestChatEndpoint_SSE(t *testing.T) {
	handler := newTestHandler(t, "stress", &stubBackend{deltas: []string{"Take ", "a ", "breath."}})

	rec := postChat(t, handler, `{"message": "anxious", "sessionId": "alice", "stream": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", got)
	}

	events := decodeFrames(t, rec.Body.String())
	if len(events) != 4 {
		t.Fatalf("frame count = %d, want 4: %s", len(events), rec.Body)
	}

	var text strings.Builder
	for _, ev := range events[:3] {
		text.WriteString(ev.Chunk)
	}
	if text.String() != "Take a breath." {
		t.Errorf("streamed text = %q", text.String())
	}

	terminal := events[3]
	if !terminal.Done || terminal.Metrics == nil || terminal.Model != "stub" {
		t.Errorf("terminal frame = %+v", terminal)
	}
}

func TestChatEndpoint_SSECrisis(t *testing.T) {
	handler := newTestHandler(t, triage.IntentSuicide, &stubBackend{deltas: []string{"unused"}})

	rec := postChat(t, handler, `{"message": "I want to end my life", "stream": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	events := decodeFrames(t, rec.Body.String())
	if len(events) != 2 {
		t.Fatalf("frame count = %d, want 2", len(events))
	}
	if !strings.Contains(events[0].Chunk, "988") {
		t.Errorf("crisis chunk = %q, want hotline resources", events[0].Chunk)
	}
	if !events[1].Done || events[1].Metrics == nil || events[1].Metrics.Emotion.Mode != triage.ModeCrisis {
		t.Errorf("terminal frame = %+v", events[1])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := newTestHandler(t, "stress", &stubBackend{text: "ok"})

	// Pair a remote classifier session first.
	postChat(t, handler, `{"message": "hi", "sessionId": "alice"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/chat?sessionId=alice", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"intent":"stress","severity":2.1}` {
		t.Errorf("metrics body = %s, want remote passthrough", got)
	}
}

func TestResetEndpoint(t *testing.T) {
	handler := newTestHandler(t, "stress", &stubBackend{text: "ok"})

	req := httptest.NewRequest(http.MethodDelete, "/api/chat?sessionId=alice", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("reset body did not decode: %v", err)
	}
	if body["sessionId"] != "alice" || body["message"] == "" {
		t.Errorf("reset body = %v", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t, "stress", &stubBackend{text: "ok"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestUnknownMethodRejected(t *testing.T) {
	handler := newTestHandler(t, "stress", &stubBackend{text: "ok"})

	req := httptest.NewRequest(http.MethodPut, "/api/chat", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
