// Package classify wraps the remote emotion/intent classifier and the
// cognitive-distortion detector behind one retry contract with documented
// safe defaults. The rest of the pipeline never blocks on classifier
// availability: exhausted retries degrade to defaults, not errors.
package classify

import (
	"time"

	"github.com/tailored-agentic-units/empath/observability"
	"github.com/tailored-agentic-units/empath/triage"
)

// Classification gateway event types.
const (
	EventRetry              observability.EventType = "classify.retry"
	EventEmotionFallback    observability.EventType = "classify.emotion.fallback"
	EventDistortionFallback observability.EventType = "classify.distortion.fallback"
	EventResetFailed        observability.EventType = "classify.reset.failed"
)

// EmotionResult is the emotion/intent classifier wire schema.
type EmotionResult struct {
	SessionID    string  `json:"session_id"`
	Intent       string  `json:"intent"`
	Confidence   float64 `json:"confidence"`
	Dejection    float64 `json:"dejection"`
	Mood         float64 `json:"mood"`
	Calmness     float64 `json:"calmness"`
	Severity     float64 `json:"severity"`
	Mode         string  `json:"mode"`
	SystemPrompt string  `json:"system_prompt"`
}

// DistortionResult is the distortion-detector wire schema.
type DistortionResult struct {
	Distortions    []triage.Distortion `json:"distortions"`
	HasDistortions bool                `json:"has_distortions"`
}

// DefaultEmotionResult is the documented safe default returned when the
// emotion classifier is unreachable. The remote session handle is preserved
// so continuity resumes once the classifier recovers.
func DefaultEmotionResult(remoteID string) EmotionResult {
	return EmotionResult{
		SessionID:  remoteID,
		Intent:     triage.IntentDefault,
		Confidence: 0.5,
		Mode:       string(triage.ModeSupportive),
	}
}

// DefaultDistortionResult is the documented safe default for the detector.
func DefaultDistortionResult() DistortionResult {
	return DistortionResult{Distortions: []triage.Distortion{}}
}

// Config holds classification gateway parameters.
type Config struct {
	// EmotionURL is the base URL of the emotion/intent classifier service.
	EmotionURL string `json:"emotion_url,omitempty"`
	// DistortionURL is the base URL of the distortion detector; empty
	// disables distortion detection.
	DistortionURL string `json:"distortion_url,omitempty"`
	// Threshold is the detector's minimum confidence, default 0.5.
	Threshold float64 `json:"threshold,omitempty"`
	// MaxAttempts is the total attempts per classifier call, default 3.
	MaxAttempts int `json:"max_attempts,omitempty"`
	// BackoffSeconds is the base backoff doubled per attempt, default 1.
	BackoffSeconds int `json:"backoff_seconds,omitempty"`
	// TimeoutSeconds bounds each attempt, default 10.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// DefaultConfig returns the default classification gateway configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.5,
		MaxAttempts:    3,
		BackoffSeconds: 1,
		TimeoutSeconds: 10,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.EmotionURL != "" {
		c.EmotionURL = source.EmotionURL
	}
	if source.DistortionURL != "" {
		c.DistortionURL = source.DistortionURL
	}
	if source.Threshold > 0 {
		c.Threshold = source.Threshold
	}
	if source.MaxAttempts > 0 {
		c.MaxAttempts = source.MaxAttempts
	}
	if source.BackoffSeconds > 0 {
		c.BackoffSeconds = source.BackoffSeconds
	}
	if source.TimeoutSeconds > 0 {
		c.TimeoutSeconds = source.TimeoutSeconds
	}
}

func (c Config) backoffBase() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

func (c Config) attemptTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
