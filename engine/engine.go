// Package engine orchestrates one conversation turn end to end: session
// lookup, concurrent classification, severity triage, the crisis
// short-circuit, prompt assembly, and the generation cascade, in both
// batch and streaming shapes.
//
// The engine initializes from configuration via New, creating all
// subsystems internally. Functional options allow test overrides of any
// subsystem.
//
//	e, err := engine.New(&cfg)
//	result, err := e.Chat(ctx, engine.Request{Message: "I feel stuck"})
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tailored-agentic-units/empath/classify"
	"github.com/tailored-agentic-units/empath/generate"
	"github.com/tailored-agentic-units/empath/observability"
	"github.com/tailored-agentic-units/empath/session"
)

// DefaultSessionKey is used when a request carries no session key.
const DefaultSessionKey = "default"

// Option configures an Engine after config-driven initialization.
// Applied by New after cold start; overrides replace config-created
// defaults.
type Option func(*Engine)

// WithStore overrides the config-created session store.
func WithStore(s session.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithGateway overrides the config-created classification gateway.
func WithGateway(g *classify.Gateway) Option {
	return func(e *Engine) { e.gateway = g }
}

// WithCascade overrides the config-created generation cascade.
func WithCascade(c *generate.Cascade) Option {
	return func(e *Engine) { e.cascade = c }
}

// WithObserver overrides the default SlogObserver.
func WithObserver(o observability.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine drives the per-turn triage and response pipeline.
type Engine struct {
	store    session.Store
	gateway  *classify.Gateway
	cascade  *generate.Cascade
	persona  string
	observer observability.Observer
}

// New creates an Engine from configuration. Subsystems (session store,
// classification gateway, generation cascade) are initialized from their
// respective config sections. Functional options applied after
// initialization can override any subsystem for testing.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	store, err := session.New(&cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	observer := observability.NewSlogObserver(slog.Default())

	e := &Engine{
		store:    store,
		gateway:  classify.NewGateway(cfg.Classify, observer),
		cascade:  generate.NewCascadeFromConfig(cfg.Generate, observer),
		persona:  cfg.Persona,
		observer: observer,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Close releases the engine's backing resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Metrics returns the current metrics for the session. When the session
// is paired with a remote classifier session, the remote state is fetched
// and passed through; on failure the locally cached metrics are returned
// instead.
func (e *Engine) Metrics(ctx context.Context, sessionKey string) (json.RawMessage, error) {
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}

	sess, err := e.store.Get(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if remoteID := sess.RemoteID(); remoteID != "" {
		raw, err := e.gateway.SessionState(ctx, remoteID)
		if err == nil {
			return raw, nil
		}
		e.emit(ctx, EventMetricsFallback, observability.LevelInfo, sessionKey,
			map[string]any{"error": err.Error()})
	}

	raw, err := json.Marshal(sess.Metrics())
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}
	return raw, nil
}

// Reset discards all local state for the session. The remote classifier
// is notified best-effort first; its failure never blocks local deletion.
func (e *Engine) Reset(ctx context.Context, sessionKey string) error {
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}

	if sess, err := e.store.Get(ctx, sessionKey); err == nil {
		e.gateway.NotifyReset(ctx, sessionKey, sess.RemoteID())
	}

	if err := e.store.Reset(ctx, sessionKey); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	return nil
}

func (e *Engine) save(ctx context.Context, sess *session.Session) {
	if err := e.store.Save(ctx, sess); err != nil {
		e.emit(ctx, EventSaveFailed, observability.LevelWarning, sess.Key(),
			map[string]any{"error": err.Error()})
	}
}

func (e *Engine) emit(ctx context.Context, eventType observability.EventType, level observability.Level, sessionKey string, data map[string]any) {
	e.observer.OnEvent(ctx, observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "engine",
		Session:   sessionKey,
		Data:      data,
	})
}
