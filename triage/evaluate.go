package triage

import (
	"math"
	"sort"
	"time"
)

// Tunables for the severity cascade. Order of application matters and is
// fixed: decay, accumulate, score, mode, distortions, combine, intervene.
const (
	decayFactor = 0.88

	modeUrgentThreshold    = 20.0
	modeConcernedThreshold = 10.0
	modeCrisisThreshold    = 35.0

	cognitiveLoadScale = 20.0

	combinedEmotionWeight    = 6.0
	combinedDistortionWeight = 4.0
	combinedMax              = 100.0

	trendIncreaseFactor = 1.2
	trendDecreaseFactor = 0.9

	interveneThreshold = 60.0
	guideThreshold     = 35.0
)

// Evaluate applies one turn's classifier observations to the previous
// metrics and returns the next metrics. It never mutates prev. dist is nil
// when distortion detection is disabled, in which case the previous
// distortion metrics carry forward unchanged.
func Evaluate(prev Metrics, emo EmotionSignal, dist *DistortionSignal, now time.Time) Metrics {
	next := prev

	intent := emo.Intent
	if intent == "" {
		intent = IntentDefault
	}
	confidence := clamp(emo.Confidence, 0, 1)

	// Exponential forgetting of prior turns, then accumulate this turn's
	// weighted contribution.
	w := weightForIntent(intent)
	next.Emotion.Dejection = sanitize(prev.Emotion.Dejection)*decayFactor + w.dejection*confidence
	next.Emotion.Mood = sanitize(prev.Emotion.Mood)*decayFactor + w.mood*confidence
	next.Emotion.Calmness = sanitize(prev.Emotion.Calmness)*decayFactor + w.calmness*confidence

	next.Emotion.Severity = 0.5*next.Emotion.Dejection +
		0.25*next.Emotion.Mood +
		0.25*next.Emotion.Calmness
	next.Emotion.Intent = intent
	next.Emotion.Confidence = confidence
	next.Emotion.Mode = modeFor(intent, next.Emotion.Severity)

	if dist != nil {
		next.Distortion = updateDistortions(prev.Distortion, *dist, now)
	}

	next.CombinedSeverity = combine(next.Emotion.Severity, next.Distortion.CognitiveLoad, next.Distortion.Trend)
	next.Intervention = interventionFor(next.Emotion.Mode, next.CombinedSeverity, next.Distortion.Trend)

	return next
}

// modeFor walks the threshold ladder highest-urgency first, so ties resolve
// to the more urgent branch.
func modeFor(intent string, severity float64) Mode {
	switch {
	case intent == IntentSuicide || severity > modeCrisisThreshold:
		return ModeCrisis
	case severity > modeUrgentThreshold:
		return ModeUrgent
	case severity > modeConcernedThreshold:
		return ModeConcerned
	default:
		return ModeSupportive
	}
}

func updateDistortions(prev DistortionMetrics, sig DistortionSignal, now time.Time) DistortionMetrics {
	next := prev
	next.Recent = append([]DistortionEvent(nil), prev.Recent...)

	if sig.Has() {
		labels := make([]string, len(sig.Detected))
		for i, d := range sig.Detected {
			labels[i] = d.Label
		}
		next.Recent = append(next.Recent, DistortionEvent{
			Timestamp: now,
			Labels:    labels,
			Count:     len(sig.Detected),
		})
		if len(next.Recent) > recentCap {
			next.Recent = next.Recent[len(next.Recent)-recentCap:]
		}
		next.Total = prev.Total + len(sig.Detected)
	}

	// Cognitive load reflects only the current turn's detections.
	load := 0.0
	for _, d := range sig.Detected {
		load += clamp(d.Confidence, 0, 1) * weightForDistortion(d.Label) * cognitiveLoadScale
	}
	next.CognitiveLoad = math.Min(combinedMax, load)

	next.Trend = trendFor(next.Recent)
	next.Dominant = dominantLabels(next.Recent)

	return next
}

// trendFor compares the counts of the last three ring entries. Fewer than
// three entries reads as stable.
func trendFor(recent []DistortionEvent) Trend {
	if len(recent) < 3 {
		return TrendStable
	}

	last := recent[len(recent)-3:]
	switch {
	case last[0].Count < last[1].Count && last[1].Count < last[2].Count:
		return TrendIncreasing
	case last[0].Count > last[1].Count && last[1].Count > last[2].Count:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// dominantLabels returns the top-2 labels by frequency across the ring.
// Ties break alphabetically so the result is deterministic.
func dominantLabels(recent []DistortionEvent) []string {
	freq := make(map[string]int)
	for _, ev := range recent {
		for _, label := range ev.Labels {
			freq[label]++
		}
	}
	if len(freq) == 0 {
		return nil
	}

	labels := make([]string, 0, len(freq))
	for label := range freq {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if freq[labels[i]] != freq[labels[j]] {
			return freq[labels[i]] > freq[labels[j]]
		}
		return labels[i] < labels[j]
	})

	if len(labels) > 2 {
		labels = labels[:2]
	}
	return labels
}

// combine blends emotion severity and cognitive load, applies the trend
// multiplier, and clamps. The clamp runs again after the multiplier: a
// capped score stays capped when the trend scales it.
func combine(severity, load float64, trend Trend) float64 {
	combined := math.Min(combinedMax, severity*combinedEmotionWeight+load*combinedDistortionWeight)
	switch trend {
	case TrendIncreasing:
		combined *= trendIncreaseFactor
	case TrendDecreasing:
		combined *= trendDecreaseFactor
	}
	return math.Min(combinedMax, math.Max(0, combined))
}

func interventionFor(mode Mode, combined float64, trend Trend) Level {
	switch {
	case mode == ModeCrisis:
		return LevelCrisis
	case combined > interveneThreshold || trend == TrendIncreasing:
		return LevelIntervene
	case combined > guideThreshold:
		return LevelGuide
	default:
		return LevelObserve
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sanitize guards the invariant that stored scalars are finite and
// non-negative even if a prior snapshot was corrupted.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
