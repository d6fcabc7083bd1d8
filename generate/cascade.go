package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tailored-agentic-units/empath/core/protocol"
	"github.com/tailored-agentic-units/empath/observability"
)

// Generation cascade event types.
const (
	EventAttempt   observability.EventType = "generate.attempt"
	EventFallback  observability.EventType = "generate.fallback"
	EventExhausted observability.EventType = "generate.exhausted"
)

// ErrExhausted is returned when every backend in the cascade failed.
var ErrExhausted = errors.New("all generation backends failed")

// Cascade tries backends in order until one succeeds. Failure always
// advances the index; no backend is retried against itself and there is no
// delay between attempts.
type Cascade struct {
	backends []Backend
	observer observability.Observer
}

// NewCascade creates a Cascade over the given ordered backends. A nil
// observer defaults to the no-op observer.
func NewCascade(observer observability.Observer, backends ...Backend) *Cascade {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Cascade{backends: backends, observer: observer}
}

// Names returns the backend names in cascade order.
func (c *Cascade) Names() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

// Complete returns the full text of the first backend that succeeds, along
// with that backend's name.
func (c *Cascade) Complete(ctx context.Context, messages []protocol.Message) (string, string, error) {
	var lastErr error
	for i, backend := range c.backends {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		c.emit(ctx, EventAttempt, observability.LevelVerbose, map[string]any{
			"backend": backend.Name(), "index": i, "streaming": false,
		})

		text, err := backend.Complete(ctx, messages)
		if err == nil {
			return text, backend.Name(), nil
		}

		lastErr = err
		c.emitFailure(ctx, backend.Name(), i, err)
	}

	return "", "", c.exhausted(ctx, lastErr)
}

// Stream returns the first backend stream that constructs successfully.
// Mid-stream failures belong to the returned Stream, not the cascade.
func (c *Cascade) Stream(ctx context.Context, messages []protocol.Message) (*Stream, error) {
	var lastErr error
	for i, backend := range c.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.emit(ctx, EventAttempt, observability.LevelVerbose, map[string]any{
			"backend": backend.Name(), "index": i, "streaming": true,
		})

		stream, err := backend.Stream(ctx, messages)
		if err == nil {
			return stream, nil
		}

		lastErr = err
		c.emitFailure(ctx, backend.Name(), i, err)
	}

	return nil, c.exhausted(ctx, lastErr)
}

func (c *Cascade) emitFailure(ctx context.Context, name string, index int, err error) {
	c.emit(ctx, EventFallback, observability.LevelWarning, map[string]any{
		"backend": name, "index": index, "error": err.Error(),
	})
}

func (c *Cascade) exhausted(ctx context.Context, lastErr error) error {
	c.emit(ctx, EventExhausted, observability.LevelError, map[string]any{
		"backends": len(c.backends),
	})
	if lastErr == nil {
		return ErrExhausted
	}
	return fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

func (c *Cascade) emit(ctx context.Context, eventType observability.EventType, level observability.Level, data map[string]any) {
	c.observer.OnEvent(ctx, observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "generate.Cascade",
		Data:      data,
	})
}
