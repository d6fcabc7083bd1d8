// Package triage computes the per-turn emotional and cognitive state of a
// conversation. Evaluate is a pure state transition: given the previous
// metrics and the classifier observations for one utterance it produces the
// next metrics, including the combined severity score and the intervention
// level. No I/O happens here; the classification gateway supplies inputs and
// the session store owns the resulting values.
package triage

import "time"

// Mode is the coarse emotional reading derived from the severity ladder.
type Mode string

const (
	ModeSupportive Mode = "supportive"
	ModeConcerned  Mode = "concerned"
	ModeUrgent     Mode = "urgent"
	ModeCrisis     Mode = "crisis"
)

// Level is the intervention tier derived from combined severity and trend.
type Level string

const (
	LevelObserve   Level = "observe"
	LevelGuide     Level = "guide"
	LevelIntervene Level = "intervene"
	LevelCrisis    Level = "crisis"
)

// Trend describes the direction of recent distortion counts.
type Trend string

const (
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
)

// IntentSuicide short-circuits the mode ladder regardless of score.
const IntentSuicide = "suicide"

// IntentDefault is the safe-default intent used when classification fails.
const IntentDefault = "general_support"

// recentCap bounds the distortion ring buffer.
const recentCap = 5

// EmotionMetrics holds the decaying emotion scalars for one session.
// All scalars are finite and non-negative.
type EmotionMetrics struct {
	Dejection  float64 `json:"dejection"`
	Mood       float64 `json:"mood"`
	Calmness   float64 `json:"calmness"`
	Severity   float64 `json:"severity"`
	Mode       Mode    `json:"mode"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// DistortionEvent is one ring-buffer entry recording the distortions
// detected in a single turn.
type DistortionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Labels    []string  `json:"labels"`
	Count     int       `json:"count"`
}

// DistortionMetrics tracks cognitive-distortion activity for one session.
type DistortionMetrics struct {
	Total         int               `json:"totalDistortions"`
	Recent        []DistortionEvent `json:"recentDistortions"`
	Trend         Trend             `json:"distortionTrend"`
	Dominant      []string          `json:"dominantDistortions"`
	CognitiveLoad float64           `json:"cognitiveLoad"`
}

// Metrics is the full derived state for one session, recomputed every turn.
type Metrics struct {
	Emotion          EmotionMetrics    `json:"emotion"`
	Distortion       DistortionMetrics `json:"distortion"`
	CombinedSeverity float64           `json:"combinedSeverity"`
	Intervention     Level             `json:"interventionLevel"`
}

// NewMetrics returns the zero state a fresh session starts from.
func NewMetrics() Metrics {
	return Metrics{
		Emotion: EmotionMetrics{
			Mode:   ModeSupportive,
			Intent: IntentDefault,
		},
		Distortion: DistortionMetrics{
			Trend: TrendStable,
		},
		Intervention: LevelObserve,
	}
}

// EmotionSignal is the classifier observation consumed by Evaluate.
// Scores beyond intent and confidence are advisory classifier output; the
// transition recomputes the session scalars itself.
type EmotionSignal struct {
	Intent     string
	Confidence float64
}

// Distortion is one detected cognitive distortion with its confidence.
type Distortion struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// DistortionSignal is the distortion-detector observation for one turn.
type DistortionSignal struct {
	Detected []Distortion
}

// Has reports whether any distortion was detected this turn.
func (s DistortionSignal) Has() bool {
	return len(s.Detected) > 0
}
