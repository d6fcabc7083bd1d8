package triage

// intentWeight is the per-intent contribution added to the emotion scalars,
// scaled by classifier confidence.
type intentWeight struct {
	dejection float64
	mood      float64
	calmness  float64
}

// intentWeights is immutable read-only configuration, safe for
// unsynchronized concurrent reads.
var intentWeights = map[string]intentWeight{
	"suicide":    {dejection: 5.0, mood: 3.0, calmness: 3.5},
	"self_harm":  {dejection: 4.0, mood: 2.5, calmness: 3.0},
	"depression": {dejection: 3.0, mood: 2.0, calmness: 1.5},
	"grief":      {dejection: 2.5, mood: 2.0, calmness: 1.0},
	"anxiety":    {dejection: 2.0, mood: 1.5, calmness: 2.5},
	"loneliness": {dejection: 2.0, mood: 1.5, calmness: 1.0},
	"stress":     {dejection: 1.5, mood: 1.0, calmness: 2.0},
}

// defaultIntentWeight applies to unknown intents and general support.
var defaultIntentWeight = intentWeight{dejection: 0.5, mood: 0.5, calmness: 0.5}

func weightForIntent(intent string) intentWeight {
	if w, ok := intentWeights[intent]; ok {
		return w
	}
	return defaultIntentWeight
}

// Canonical distortion labels emitted by the detector.
const (
	LabelCatastrophizing    = "catastrophizing"
	LabelOvergeneralization = "overgeneralization"
	LabelBlackAndWhite      = "black_and_white"
	LabelSelfBlame          = "self_blame"
	LabelMindReading        = "mind_reading"
)

// distortionWeights scales each label's contribution to cognitive load.
var distortionWeights = map[string]float64{
	LabelCatastrophizing:    3.0,
	LabelOvergeneralization: 2.5,
	LabelBlackAndWhite:      2.0,
	LabelSelfBlame:          2.5,
	LabelMindReading:        1.5,
}

const defaultDistortionWeight = 1.0

func weightForDistortion(label string) float64 {
	if w, ok := distortionWeights[label]; ok {
		return w
	}
	return defaultDistortionWeight
}
