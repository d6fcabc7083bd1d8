// Package prompt assembles the system instruction and the bounded
// conversation window sent to the generation cascade. Assembly is
// deterministic: persona, severity-band clause, per-distortion guidance,
// trend remark, style suffix, in that order.
package prompt

import (
	"strings"

	"github.com/tailored-agentic-units/empath/core/protocol"
	"github.com/tailored-agentic-units/empath/triage"
)

// HistoryWindow bounds how many history entries accompany the system
// message. Older turns are dropped, never summarized.
const HistoryWindow = 10

// DefaultPersona opens every system instruction unless the classifier
// supplied its own persona hint.
const DefaultPersona = "You are a warm, empathetic mental health support assistant. " +
	"Have a natural, supportive conversation and listen actively."

const styleSuffix = "Keep responses concise (2-3 sentences). Lead with empathy before any suggestion."

var levelClauses = map[triage.Level]string{
	triage.LevelObserve: "The user seems stable. Keep the conversation light and open-ended.",
	triage.LevelGuide: "The user is showing mild distress. Gently explore what is troubling them " +
		"and reflect their feelings back.",
	triage.LevelIntervene: "The user is showing significant distress. Validate their feelings " +
		"explicitly, avoid minimizing, and encourage them to reach out to someone they trust.",
	triage.LevelCrisis: "The user may be in acute distress. Respond with calm, direct support " +
		"and point them toward immediate professional help.",
}

var distortionClauses = map[string]string{
	triage.LabelCatastrophizing: "The user is catastrophizing. Help them separate what has " +
		"happened from what they fear might happen, without dismissing the fear.",
	triage.LabelOvergeneralization: "The user is overgeneralizing from a single event. Gently " +
		"point to specific counterexamples from what they have shared.",
	triage.LabelBlackAndWhite: "The user is thinking in all-or-nothing terms. Introduce shades " +
		"of gray without arguing against their feelings.",
	triage.LabelSelfBlame: "The user is blaming themselves. Redirect toward circumstances and " +
		"shared responsibility without absolving them dismissively.",
	triage.LabelMindReading: "The user is assuming what others think of them. Invite them to " +
		"test those assumptions rather than treat them as facts.",
}

var trendClauses = map[triage.Trend]string{
	triage.TrendIncreasing: "Their thinking patterns have been intensifying over recent " +
		"messages; slow the pace and ground the conversation.",
	triage.TrendDecreasing: "Their thinking patterns have been easing; reinforce the progress " +
		"they are making.",
}

// Input carries the per-turn signals the builder keys its clauses from.
type Input struct {
	// Persona overrides the opening persona text when non-empty
	// (classifier system-prompt hint).
	Persona string
	// Level is the intervention tier computed by triage.
	Level triage.Level
	// Trend is the distortion trend computed by triage.
	Trend triage.Trend
	// Distortions lists the labels detected this turn; one guidance clause
	// is appended per known label, in the order given.
	Distortions []string
}

// System composes the full system instruction for one turn.
func System(in Input) string {
	parts := make([]string, 0, 4+len(in.Distortions))

	persona := in.Persona
	if persona == "" {
		persona = DefaultPersona
	}
	parts = append(parts, persona)

	if clause, ok := levelClauses[in.Level]; ok {
		parts = append(parts, clause)
	}

	for _, label := range in.Distortions {
		if clause, ok := distortionClauses[label]; ok {
			parts = append(parts, clause)
		}
	}

	if clause, ok := trendClauses[in.Trend]; ok {
		parts = append(parts, clause)
	}

	parts = append(parts, styleSuffix)
	return strings.Join(parts, " ")
}

// Build returns the generation payload: the system message followed by the
// most recent HistoryWindow entries of history, oldest first.
func Build(in Input, history []protocol.Message) []protocol.Message {
	window := protocol.Window(history, HistoryWindow)

	messages := make([]protocol.Message, 0, len(window)+1)
	messages = append(messages, protocol.NewMessage(protocol.RoleSystem, System(in)))
	messages = append(messages, window...)
	return messages
}
