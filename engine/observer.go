package engine

import "github.com/tailored-agentic-units/empath/observability"

// Engine event types emitted during turn orchestration.
const (
	EventTurnStart       observability.EventType = "engine.turn.start"
	EventTurnCrisis      observability.EventType = "engine.turn.crisis"
	EventTurnComplete    observability.EventType = "engine.turn.complete"
	EventFallback        observability.EventType = "engine.fallback"
	EventStreamFallback  observability.EventType = "engine.stream.fallback"
	EventMetricsFallback observability.EventType = "engine.metrics.fallback"
	EventSaveFailed      observability.EventType = "engine.save.failed"
)
