package triage_test

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/empath/triage"
)

var turnTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func evaluateTurns(t *testing.T, turns int, emo triage.EmotionSignal, dist *triage.DistortionSignal) triage.Metrics {
	t.Helper()
	m := triage.NewMetrics()
	for i := 0; i < turns; i++ {
		m = triage.Evaluate(m, emo, dist, turnTime.Add(time.Duration(i)*time.Minute))
	}
	return m
}

func TestNewMetrics_ZeroState(t *testing.T) {
	m := triage.NewMetrics()

	if m.Emotion.Mode != triage.ModeSupportive {
		t.Errorf("fresh mode = %q, want supportive", m.Emotion.Mode)
	}
	if m.Intervention != triage.LevelObserve {
		t.Errorf("fresh intervention = %q, want observe", m.Intervention)
	}
	if m.Emotion.Severity != 0 || m.CombinedSeverity != 0 || m.Distortion.CognitiveLoad != 0 {
		t.Errorf("fresh scalars should be zero: %+v", m)
	}
}

func TestEvaluate_SingleDepressionTurn(t *testing.T) {
	got := evaluateTurns(t, 1, triage.EmotionSignal{Intent: "depression", Confidence: 1.0}, nil)

	want := triage.Metrics{
		Emotion: triage.EmotionMetrics{
			Dejection:  3.0,
			Mood:       2.0,
			Calmness:   1.5,
			Severity:   0.5*3.0 + 0.25*2.0 + 0.25*1.5,
			Mode:       triage.ModeSupportive,
			Intent:     "depression",
			Confidence: 1.0,
		},
		Distortion:       triage.DistortionMetrics{Trend: triage.TrendStable},
		CombinedSeverity: (0.5*3.0 + 0.25*2.0 + 0.25*1.5) * 6,
		Intervention:     triage.LevelObserve,
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_SuicideIntentForcesCrisis(t *testing.T) {
	for _, confidence := range []float64{0, 0.01, 0.5, 1.0} {
		got := evaluateTurns(t, 1, triage.EmotionSignal{Intent: triage.IntentSuicide, Confidence: confidence}, nil)

		if got.Emotion.Mode != triage.ModeCrisis {
			t.Errorf("confidence %.2f: mode = %q, want crisis", confidence, got.Emotion.Mode)
		}
		if got.Intervention != triage.LevelCrisis {
			t.Errorf("confidence %.2f: intervention = %q, want crisis", confidence, got.Intervention)
		}
	}
}

func TestEvaluate_ModeLadder(t *testing.T) {
	// Decay bounds each intent's severity at weightedSum/0.12: depression
	// saturates near 16.5 (concerned), self_harm near 28.1 (urgent), and
	// even suicide converges below 35 — crisis mode is reached through the
	// intent check, not the score.
	tests := []struct {
		name   string
		intent string
		turns  int
		want   triage.Mode
	}{
		{name: "first turn supportive", intent: "depression", turns: 1, want: triage.ModeSupportive},
		{name: "accumulation reaches concerned", intent: "depression", turns: 6, want: triage.ModeConcerned},
		{name: "self harm saturates urgent", intent: "self_harm", turns: 40, want: triage.ModeUrgent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateTurns(t, tt.turns, triage.EmotionSignal{Intent: tt.intent, Confidence: 1.0}, nil)
			if got.Emotion.Mode != tt.want {
				t.Errorf("after %d %s turns: mode = %q (severity %.2f), want %q",
					tt.turns, tt.intent, got.Emotion.Mode, got.Emotion.Severity, tt.want)
			}
		})
	}
}

func TestEvaluate_DecayMonotonicity(t *testing.T) {
	m := evaluateTurns(t, 3, triage.EmotionSignal{Intent: "depression", Confidence: 1.0}, nil)

	// No new distressing signal: zero confidence contributes nothing, so
	// every scalar strictly decreases toward zero.
	quiet := triage.EmotionSignal{Intent: triage.IntentDefault, Confidence: 0}
	for i := 0; i < 30; i++ {
		next := triage.Evaluate(m, quiet, nil, turnTime)
		if next.Emotion.Dejection >= m.Emotion.Dejection ||
			next.Emotion.Mood >= m.Emotion.Mood ||
			next.Emotion.Calmness >= m.Emotion.Calmness {
			t.Fatalf("turn %d: scalars did not strictly decrease: %+v -> %+v", i, m.Emotion, next.Emotion)
		}
		m = next
	}

	if m.Emotion.Dejection > 0.5 {
		t.Errorf("dejection should decay toward 0, still %.3f", m.Emotion.Dejection)
	}
}

func TestEvaluate_ClampInvariantUnderAdversarialInput(t *testing.T) {
	dist := &triage.DistortionSignal{Detected: []triage.Distortion{
		{Label: triage.LabelCatastrophizing, Confidence: 1.0},
		{Label: triage.LabelCatastrophizing, Confidence: 1.0},
		{Label: triage.LabelSelfBlame, Confidence: 1.0},
	}}

	m := triage.NewMetrics()
	for i := 0; i < 200; i++ {
		m = triage.Evaluate(m, triage.EmotionSignal{Intent: triage.IntentSuicide, Confidence: 1.0}, dist, turnTime)

		if m.CombinedSeverity < 0 || m.CombinedSeverity > 100 {
			t.Fatalf("turn %d: combinedSeverity %.2f out of [0,100]", i, m.CombinedSeverity)
		}
		if m.Distortion.CognitiveLoad < 0 || m.Distortion.CognitiveLoad > 100 {
			t.Fatalf("turn %d: cognitiveLoad %.2f out of [0,100]", i, m.Distortion.CognitiveLoad)
		}
		for _, v := range []float64{m.Emotion.Dejection, m.Emotion.Mood, m.Emotion.Calmness, m.Emotion.Severity} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				t.Fatalf("turn %d: emotion scalar %.2f violates invariant", i, v)
			}
		}
	}

	if m.CombinedSeverity != 100 {
		t.Errorf("sustained crisis input should saturate combinedSeverity at 100, got %.2f", m.CombinedSeverity)
	}
}

func TestEvaluate_CorruptedSnapshotRecovers(t *testing.T) {
	m := triage.NewMetrics()
	m.Emotion.Dejection = math.NaN()
	m.Emotion.Mood = math.Inf(1)
	m.Emotion.Calmness = -4

	got := triage.Evaluate(m, triage.EmotionSignal{Intent: triage.IntentDefault, Confidence: 0.5}, nil, turnTime)

	for name, v := range map[string]float64{
		"dejection": got.Emotion.Dejection,
		"mood":      got.Emotion.Mood,
		"calmness":  got.Emotion.Calmness,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			t.Errorf("%s = %v after corrupted snapshot, want finite non-negative", name, v)
		}
	}
}

func singleDistortion(label string) *triage.DistortionSignal {
	return &triage.DistortionSignal{Detected: []triage.Distortion{{Label: label, Confidence: 0.8}}}
}

func TestEvaluate_TrendStableOnFlatCounts(t *testing.T) {
	// Three turns, one distortion each: counts [1,1,1] are not strictly
	// increasing, so the trend stays stable.
	m := triage.NewMetrics()
	emo := triage.EmotionSignal{Intent: "stress", Confidence: 0.5}
	for i := 0; i < 3; i++ {
		m = triage.Evaluate(m, emo, singleDistortion(triage.LabelOvergeneralization), turnTime)
	}

	if m.Distortion.Trend != triage.TrendStable {
		t.Errorf("trend = %q, want stable", m.Distortion.Trend)
	}
	if m.Distortion.Total != 3 {
		t.Errorf("total = %d, want 3", m.Distortion.Total)
	}
}

func TestEvaluate_TrendDirections(t *testing.T) {
	signalWithCount := func(n int) *triage.DistortionSignal {
		s := &triage.DistortionSignal{}
		for i := 0; i < n; i++ {
			s.Detected = append(s.Detected, triage.Distortion{Label: triage.LabelMindReading, Confidence: 0.6})
		}
		return s
	}

	tests := []struct {
		name   string
		counts []int
		want   triage.Trend
	}{
		{name: "strictly increasing", counts: []int{1, 2, 3}, want: triage.TrendIncreasing},
		{name: "strictly decreasing", counts: []int{3, 2, 1}, want: triage.TrendDecreasing},
		{name: "plateau is stable", counts: []int{1, 3, 3}, want: triage.TrendStable},
		{name: "two entries is stable", counts: []int{1, 2}, want: triage.TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := triage.NewMetrics()
			for _, n := range tt.counts {
				m = triage.Evaluate(m, triage.EmotionSignal{Intent: "anxiety", Confidence: 0.4}, signalWithCount(n), turnTime)
			}
			if m.Distortion.Trend != tt.want {
				t.Errorf("trend = %q, want %q", m.Distortion.Trend, tt.want)
			}
		})
	}
}

func TestEvaluate_RingBufferCap(t *testing.T) {
	m := triage.NewMetrics()
	for i := 0; i < 9; i++ {
		m = triage.Evaluate(m, triage.EmotionSignal{Intent: "stress", Confidence: 0.3}, singleDistortion(triage.LabelSelfBlame), turnTime.Add(time.Duration(i)*time.Minute))
	}

	if len(m.Distortion.Recent) != 5 {
		t.Fatalf("ring holds %d entries, want 5", len(m.Distortion.Recent))
	}
	if m.Distortion.Total != 9 {
		t.Errorf("total = %d, want 9 (total is not ring-bounded)", m.Distortion.Total)
	}
	// Oldest entries drop first.
	if got := m.Distortion.Recent[0].Timestamp; !got.Equal(turnTime.Add(4 * time.Minute)) {
		t.Errorf("oldest retained entry at %v, want %v", got, turnTime.Add(4*time.Minute))
	}
}

func TestEvaluate_DominantLabels(t *testing.T) {
	m := triage.NewMetrics()
	emo := triage.EmotionSignal{Intent: "anxiety", Confidence: 0.4}

	m = triage.Evaluate(m, emo, &triage.DistortionSignal{Detected: []triage.Distortion{
		{Label: triage.LabelCatastrophizing, Confidence: 0.9},
		{Label: triage.LabelSelfBlame, Confidence: 0.7},
	}}, turnTime)
	m = triage.Evaluate(m, emo, &triage.DistortionSignal{Detected: []triage.Distortion{
		{Label: triage.LabelCatastrophizing, Confidence: 0.8},
		{Label: triage.LabelMindReading, Confidence: 0.6},
	}}, turnTime)

	want := []string{triage.LabelCatastrophizing, triage.LabelMindReading}
	if diff := cmp.Diff(want, m.Distortion.Dominant); diff != "" {
		// mind_reading and self_blame tie at one occurrence; the
		// alphabetical tiebreak picks mind_reading.
		t.Errorf("dominant labels mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_CognitiveLoadReflectsCurrentTurnOnly(t *testing.T) {
	m := triage.NewMetrics()
	emo := triage.EmotionSignal{Intent: "stress", Confidence: 0.2}

	m = triage.Evaluate(m, emo, &triage.DistortionSignal{Detected: []triage.Distortion{
		{Label: triage.LabelCatastrophizing, Confidence: 1.0},
	}}, turnTime)
	if want := 1.0 * 3.0 * 20.0; m.Distortion.CognitiveLoad != want {
		t.Errorf("load = %.2f, want %.2f", m.Distortion.CognitiveLoad, want)
	}

	// A clean turn resets the load even though the ring retains history.
	m = triage.Evaluate(m, emo, &triage.DistortionSignal{}, turnTime)
	if m.Distortion.CognitiveLoad != 0 {
		t.Errorf("load after clean turn = %.2f, want 0", m.Distortion.CognitiveLoad)
	}
	if len(m.Distortion.Recent) != 1 {
		t.Errorf("clean turn should not append a ring entry, ring has %d", len(m.Distortion.Recent))
	}
}

func TestEvaluate_CombinedSeverityScaleThenClamp(t *testing.T) {
	// Build a state whose ring shows a strictly increasing trend, then
	// verify the trend multiplier applies before the final clamp.
	m := triage.NewMetrics()
	emo := triage.EmotionSignal{Intent: "depression", Confidence: 1.0}
	counts := []int{1, 2, 3}
	for _, n := range counts {
		sig := &triage.DistortionSignal{}
		for i := 0; i < n; i++ {
			sig.Detected = append(sig.Detected, triage.Distortion{Label: triage.LabelBlackAndWhite, Confidence: 0.5})
		}
		m = triage.Evaluate(m, emo, sig, turnTime)
	}

	if m.Distortion.Trend != triage.TrendIncreasing {
		t.Fatalf("trend = %q, want increasing", m.Distortion.Trend)
	}

	base := math.Min(100, m.Emotion.Severity*6+m.Distortion.CognitiveLoad*4)
	want := math.Min(100, base*1.2)
	if math.Abs(m.CombinedSeverity-want) > 1e-9 {
		t.Errorf("combined = %.4f, want %.4f (scale then clamp)", m.CombinedSeverity, want)
	}

	// An increasing trend forces intervene regardless of score.
	if m.Intervention != triage.LevelIntervene {
		t.Errorf("intervention = %q, want intervene on increasing trend", m.Intervention)
	}
}

func TestEvaluate_DecreasingTrendScalesDown(t *testing.T) {
	m := triage.NewMetrics()
	emo := triage.EmotionSignal{Intent: "grief", Confidence: 1.0}
	for _, n := range []int{3, 2, 1} {
		sig := &triage.DistortionSignal{}
		for i := 0; i < n; i++ {
			sig.Detected = append(sig.Detected, triage.Distortion{Label: triage.LabelOvergeneralization, Confidence: 0.4})
		}
		m = triage.Evaluate(m, emo, sig, turnTime)
	}

	if m.Distortion.Trend != triage.TrendDecreasing {
		t.Fatalf("trend = %q, want decreasing", m.Distortion.Trend)
	}
	base := math.Min(100, m.Emotion.Severity*6+m.Distortion.CognitiveLoad*4)
	want := math.Min(100, base*0.9)
	if math.Abs(m.CombinedSeverity-want) > 1e-9 {
		t.Errorf("combined = %.4f, want %.4f", m.CombinedSeverity, want)
	}
}

func TestEvaluate_DisabledDetectorCarriesDistortionState(t *testing.T) {
	m := triage.NewMetrics()
	m = triage.Evaluate(m, triage.EmotionSignal{Intent: "stress", Confidence: 0.5}, singleDistortion(triage.LabelSelfBlame), turnTime)

	got := triage.Evaluate(m, triage.EmotionSignal{Intent: "stress", Confidence: 0.5}, nil, turnTime)

	if diff := cmp.Diff(m.Distortion, got.Distortion); diff != "" {
		t.Errorf("distortion metrics should carry forward unchanged (-want +got):\n%s", diff)
	}
}

func TestEvaluate_DoesNotMutatePrevious(t *testing.T) {
	prev := evaluateTurns(t, 2, triage.EmotionSignal{Intent: "anxiety", Confidence: 0.6}, singleDistortion(triage.LabelMindReading))
	snapshot := prev
	snapshot.Distortion.Recent = append([]triage.DistortionEvent(nil), prev.Distortion.Recent...)

	triage.Evaluate(prev, triage.EmotionSignal{Intent: triage.IntentSuicide, Confidence: 1.0}, singleDistortion(triage.LabelCatastrophizing), turnTime)

	if diff := cmp.Diff(snapshot, prev); diff != "" {
		t.Errorf("Evaluate() mutated its input (-want +got):\n%s", diff)
	}
}
