package engine

import (
	"context"
	"strings"
	"time"

	"github.com/tailored-agentic-units/empath/core/protocol"
	"github.com/tailored-agentic-units/empath/generate"
	"github.com/tailored-agentic-units/empath/observability"
	"github.com/tailored-agentic-units/empath/prompt"
	"github.com/tailored-agentic-units/empath/session"
	"github.com/tailored-agentic-units/empath/triage"
)

// CrisisMessage is the fixed safety response returned when triage enters
// crisis mode. It is served without invoking generation.
const CrisisMessage = "I'm really concerned about your safety right now.\n\n" +
	"**Please reach out immediately:**\n" +
	"• Call/text **988** (Suicide & Crisis Lifeline - US)\n" +
	"• Text **HOME to 741741** (Crisis Text Line - US)\n" +
	"• Call **911** or go to nearest ER\n" +
	"• International: Find your local crisis line at findahelpline.com\n\n" +
	"You don't have to face this alone. Help is available 24/7."

// Fallback sentences served when generation fails, per shape.
const (
	streamFallbackText = "I'm here to support you. Could you tell me more about what you're experiencing?"
	batchFallbackText  = "I'm here to listen and support you. Could you share more about what's on your mind?"
)

// Request is one inbound user turn.
type Request struct {
	// Message is the user's text. Empty or whitespace-only messages are
	// rejected with ErrEmptyMessage before any work starts.
	Message string
	// SessionID selects the conversation; empty means DefaultSessionKey.
	SessionID string
}

// Result is the batch-shaped outcome of a turn.
type Result struct {
	Response string         `json:"response"`
	Metrics  triage.Metrics `json:"metrics"`
	IsCrisis bool           `json:"isCrisis,omitempty"`
	Fallback bool           `json:"fallback,omitempty"`
	Model    string         `json:"model,omitempty"`
}

// Event is one frame of a streaming turn. Zero or more chunk events are
// followed by exactly one terminal event with Done set; the terminal
// event is the sole authority on the turn's final metrics.
type Event struct {
	Chunk   string          `json:"chunk,omitempty"`
	Error   bool            `json:"error,omitempty"`
	Done    bool            `json:"done,omitempty"`
	Metrics *triage.Metrics `json:"metrics,omitempty"`
	Model   string          `json:"model,omitempty"`
}

// turn carries the shared state of one in-flight turn after the
// classification and triage steps.
type turn struct {
	ctx     context.Context
	end     func()
	sess    *session.Session
	metrics triage.Metrics
	payload []protocol.Message
	crisis  bool
}

// beginTurn runs the pre-generation pipeline: validation, session
// acquisition (superseding any in-flight stream), concurrent
// classification, triage, and prompt assembly. The caller must invoke
// t.end exactly once.
func (e *Engine) beginTurn(ctx context.Context, req Request) (*turn, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	key := req.SessionID
	if key == "" {
		key = DefaultSessionKey
	}

	sess, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	turnCtx, end := sess.BeginTurn(ctx)

	e.emit(turnCtx, EventTurnStart, observability.LevelVerbose, key,
		map[string]any{"message_length": len(req.Message)})

	res := e.gateway.Classify(turnCtx, key, req.Message, sess.RemoteID())
	sess.SetRemoteID(res.Emotion.SessionID)

	var distortions *triage.DistortionSignal
	if e.gateway.DistortionEnabled() {
		distortions = &triage.DistortionSignal{Detected: res.Distortion.Distortions}
	}

	metrics := triage.Evaluate(
		sess.Metrics(),
		triage.EmotionSignal{Intent: res.Emotion.Intent, Confidence: res.Emotion.Confidence},
		distortions,
		time.Now(),
	)
	sess.SetMetrics(metrics)
	sess.AddMessage(protocol.NewMessage(protocol.RoleUser, req.Message))

	t := &turn{
		ctx:     turnCtx,
		end:     end,
		sess:    sess,
		metrics: metrics,
	}

	if metrics.Emotion.Mode == triage.ModeCrisis {
		t.crisis = true
		return t, nil
	}

	persona := res.Emotion.SystemPrompt
	if persona == "" {
		persona = e.persona
	}
	labels := make([]string, 0, len(res.Distortion.Distortions))
	for _, d := range res.Distortion.Distortions {
		labels = append(labels, d.Label)
	}

	t.payload = prompt.Build(prompt.Input{
		Persona:     persona,
		Level:       metrics.Intervention,
		Trend:       metrics.Distortion.Trend,
		Distortions: labels,
	}, sess.History())

	return t, nil
}

// finishCrisis records the fixed safety message and closes out the turn's
// session state. Generation is never invoked.
func (e *Engine) finishCrisis(t *turn) *Result {
	e.emit(t.ctx, EventTurnCrisis, observability.LevelWarning, t.sess.Key(),
		map[string]any{
			"intent":            t.metrics.Emotion.Intent,
			"combined_severity": t.metrics.CombinedSeverity,
		})

	t.sess.AddMessage(protocol.NewMessage(protocol.RoleAssistant, CrisisMessage))
	e.save(t.ctx, t.sess)

	return &Result{
		Response: CrisisMessage,
		Metrics:  t.metrics,
		IsCrisis: true,
	}
}

// Chat runs one non-streaming turn. Classifier and generation failures
// degrade to documented fallbacks; the only error returned is validation.
func (e *Engine) Chat(ctx context.Context, req Request) (*Result, error) {
	t, err := e.beginTurn(ctx, req)
	if err != nil {
		return nil, err
	}
	defer t.end()

	if t.crisis {
		return e.finishCrisis(t), nil
	}

	result := e.complete(t)

	e.emit(t.ctx, EventTurnComplete, observability.LevelInfo, t.sess.Key(),
		map[string]any{
			"model":    result.Model,
			"fallback": result.Fallback,
			"mode":     string(t.metrics.Emotion.Mode),
		})

	return result, nil
}

// complete runs one batch generation pass over the turn's payload and
// records the assistant reply.
func (e *Engine) complete(t *turn) *Result {
	text, model, err := e.cascade.Complete(t.ctx, t.payload)
	fallback := false
	if err != nil {
		e.emit(t.ctx, EventFallback, observability.LevelWarning, t.sess.Key(),
			map[string]any{"error": err.Error()})
		text = batchFallbackText
		model = ""
		fallback = true
	}

	t.sess.AddMessage(protocol.NewMessage(protocol.RoleAssistant, text))
	e.save(t.ctx, t.sess)

	return &Result{
		Response: text,
		Metrics:  t.metrics,
		Fallback: fallback,
		Model:    model,
	}
}

// ChatStream runs one streaming turn. On success it returns an event
// channel that yields chunk events followed by exactly one terminal
// event; the channel closes after the terminal event. When no backend
// can construct a stream, the turn degrades to one batch pass and the
// batch Result is returned instead of a channel. A crisis turn streams
// as a single chunk followed by the terminal event.
func (e *Engine) ChatStream(ctx context.Context, req Request) (<-chan Event, *Result, error) {
	t, err := e.beginTurn(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	if t.crisis {
		result := e.finishCrisis(t)
		t.end()

		events := make(chan Event, 2)
		events <- Event{Chunk: result.Response}
		events <- Event{Done: true, Metrics: &result.Metrics}
		close(events)
		return events, nil, nil
	}

	stream, err := e.cascade.Stream(t.ctx, t.payload)
	if err != nil {
		e.emit(t.ctx, EventStreamFallback, observability.LevelWarning, t.sess.Key(),
			map[string]any{"error": err.Error()})

		result := e.complete(t)
		result.Fallback = true
		t.end()
		return nil, result, nil
	}

	events := make(chan Event)
	go e.pump(t, stream, events)
	return events, nil, nil
}

// pump forwards stream deltas as chunk events and guarantees the terminal
// event. A mid-stream failure substitutes the fixed fallback sentence in
// an error-flagged chunk; the terminal event still carries the turn's
// metrics. Owns t.end.
func (e *Engine) pump(t *turn, stream *generate.Stream, events chan<- Event) {
	defer close(events)
	defer t.end()

	var full strings.Builder
	for delta := range stream.Deltas() {
		full.WriteString(delta)
		if !e.send(t, events, Event{Chunk: delta}) {
			// Consumer gone or turn superseded. Keep what was generated.
			if full.Len() > 0 {
				t.sess.AddMessage(protocol.NewMessage(protocol.RoleAssistant, full.String()))
				e.save(context.WithoutCancel(t.ctx), t.sess)
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		e.emit(t.ctx, EventFallback, observability.LevelWarning, t.sess.Key(),
			map[string]any{"error": err.Error(), "model": stream.Model(), "partial_length": full.Len()})

		t.sess.AddMessage(protocol.NewMessage(protocol.RoleAssistant, streamFallbackText))
		e.save(context.WithoutCancel(t.ctx), t.sess)

		if !e.send(t, events, Event{Chunk: streamFallbackText, Error: true}) {
			return
		}
		e.send(t, events, Event{Done: true, Metrics: &t.metrics})
		return
	}

	t.sess.AddMessage(protocol.NewMessage(protocol.RoleAssistant, full.String()))
	e.save(context.WithoutCancel(t.ctx), t.sess)

	e.emit(t.ctx, EventTurnComplete, observability.LevelInfo, t.sess.Key(),
		map[string]any{
			"model":           stream.Model(),
			"response_length": full.Len(),
			"mode":            string(t.metrics.Emotion.Mode),
		})

	e.send(t, events, Event{Done: true, Metrics: &t.metrics, Model: stream.Model()})
}

// send delivers one event unless the turn context ends first.
func (e *Engine) send(t *turn, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}
