package classify

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/empath/observability"
	"github.com/tailored-agentic-units/empath/retry"
)

// Result joins both classifier outputs for one turn. The Defaulted flags
// report which side degraded to its safe default.
type Result struct {
	Emotion             EmotionResult
	EmotionDefaulted    bool
	Distortion          DistortionResult
	DistortionDefaulted bool
}

// Gateway invokes the emotion classifier and the distortion detector
// concurrently under a shared retry policy. Classify never returns an
// error: exhausted retries mask to the documented safe defaults so the
// pipeline never blocks on classifier availability.
type Gateway struct {
	emotion    EmotionClassifier
	distortion DistortionDetector
	threshold  float64
	policy     retry.Policy
	observer   observability.Observer
}

// NewGateway creates a Gateway from configuration. The distortion detector
// is disabled when cfg.DistortionURL is empty. A nil observer defaults to
// the no-op observer.
func NewGateway(cfg Config, observer observability.Observer) *Gateway {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}

	g := &Gateway{
		emotion:   NewEmotionClassifier(cfg.EmotionURL, nil),
		threshold: cfg.Threshold,
		policy: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			Backoff:        retry.Exponential(cfg.backoffBase()),
			AttemptTimeout: cfg.attemptTimeout(),
		},
		observer: observer,
	}
	if cfg.DistortionURL != "" {
		g.distortion = NewDistortionDetector(cfg.DistortionURL, nil)
	}
	return g
}

// Option overrides a Gateway collaborator, for tests and custom transports.
type Option func(*Gateway)

// WithEmotionClassifier replaces the HTTP emotion classifier.
func WithEmotionClassifier(c EmotionClassifier) Option {
	return func(g *Gateway) { g.emotion = c }
}

// WithDistortionDetector replaces (or enables) the distortion detector.
func WithDistortionDetector(d DistortionDetector) Option {
	return func(g *Gateway) { g.distortion = d }
}

// WithRetryPolicy replaces the config-derived retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(g *Gateway) { g.policy = p }
}

// Apply applies options after construction.
func (g *Gateway) Apply(opts ...Option) *Gateway {
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DistortionEnabled reports whether the detector side is configured.
func (g *Gateway) DistortionEnabled() bool {
	return g.distortion != nil
}

// Classify runs both classifiers concurrently and joins the results. The
// turn cannot proceed on partial results, so both sides complete before it
// returns; a failed side degrades to its default without blocking the other.
func (g *Gateway) Classify(ctx context.Context, sessionKey, text, remoteID string) Result {
	result := Result{
		Emotion:    DefaultEmotionResult(remoteID),
		Distortion: DefaultDistortionResult(),
	}

	grp, grpCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		emotion, err := retry.DoValue(grpCtx, g.notifyingPolicy(sessionKey, "emotion"),
			func(ctx context.Context) (EmotionResult, error) {
				return g.emotion.Classify(ctx, text, remoteID)
			})
		if err != nil {
			g.emit(grpCtx, EventEmotionFallback, observability.LevelWarning, sessionKey,
				map[string]any{"error": err.Error()})
			result.EmotionDefaulted = true
			return nil
		}
		result.Emotion = emotion
		return nil
	})

	if g.distortion != nil {
		grp.Go(func() error {
			distortion, err := retry.DoValue(grpCtx, g.notifyingPolicy(sessionKey, "distortion"),
				func(ctx context.Context) (DistortionResult, error) {
					return g.distortion.Detect(ctx, text, g.threshold)
				})
			if err != nil {
				g.emit(grpCtx, EventDistortionFallback, observability.LevelWarning, sessionKey,
					map[string]any{"error": err.Error()})
				result.DistortionDefaulted = true
				return nil
			}
			result.Distortion = distortion
			return nil
		})
	}

	// Goroutines recover to defaults instead of returning errors, so Wait
	// is only a join point.
	_ = grp.Wait()

	return result
}

// SessionState forwards a metrics fetch to the remote classifier.
func (g *Gateway) SessionState(ctx context.Context, remoteID string) ([]byte, error) {
	return g.emotion.SessionState(ctx, remoteID)
}

// NotifyReset tells the remote classifier to discard its paired session.
// Failures are logged and swallowed: reset must never fail the caller.
func (g *Gateway) NotifyReset(ctx context.Context, sessionKey, remoteID string) {
	if remoteID == "" {
		return
	}
	if err := g.emotion.ResetSession(ctx, remoteID); err != nil {
		g.emit(ctx, EventResetFailed, observability.LevelWarning, sessionKey,
			map[string]any{"error": err.Error()})
	}
}

func (g *Gateway) notifyingPolicy(sessionKey, classifier string) retry.Policy {
	p := g.policy
	p.Notify = func(attempt int, err error) {
		g.emit(context.Background(), EventRetry, observability.LevelVerbose, sessionKey,
			map[string]any{"classifier": classifier, "attempt": attempt + 1, "error": err.Error()})
	}
	return p
}

func (g *Gateway) emit(ctx context.Context, eventType observability.EventType, level observability.Level, sessionKey string, data map[string]any) {
	g.observer.OnEvent(ctx, observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "classify.Gateway",
		Session:   sessionKey,
		Data:      data,
	})
}
