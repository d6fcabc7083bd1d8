// Package session manages per-conversation state: conversation history,
// triage metrics, and the remote classifier session handle. Access to a
// session is single-writer per turn, and a new turn supersedes any
// in-flight streaming turn on the same key by cancelling its context.
package session

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/empath/core/protocol"
	"github.com/tailored-agentic-units/empath/triage"
)

// Session holds one conversation's mutable state. All accessors are safe
// for concurrent use; whole-turn exclusivity comes from BeginTurn.
type Session struct {
	id  string
	key string

	mu       sync.Mutex
	history  []protocol.Message
	metrics  triage.Metrics
	remoteID string
	cancel   context.CancelFunc

	turnMu sync.Mutex
}

func newSession(key string) *Session {
	return &Session{
		id:      uuid.Must(uuid.NewV7()).String(),
		key:     key,
		metrics: triage.NewMetrics(),
	}
}

// ID returns the internal session record identifier.
func (s *Session) ID() string { return s.id }

// Key returns the caller-supplied session key.
func (s *Session) Key() string { return s.key }

// AddMessage appends a message to the conversation history. History is
// append-only; truncation happens only in the prompt read window.
func (s *Session) AddMessage(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
}

// History returns a defensive copy of the conversation history.
func (s *Session) History() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Metrics returns the current triage metrics.
func (s *Session) Metrics() triage.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// SetMetrics replaces the triage metrics, recomputed once per turn.
func (s *Session) SetMetrics(m triage.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// RemoteID returns the remote classifier's paired session handle.
func (s *Session) RemoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// SetRemoteID stores the remote classifier's paired session handle.
// Empty handles are ignored so a classifier fallback cannot clobber an
// established pairing.
func (s *Session) SetRemoteID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		s.remoteID = id
	}
}

// BeginTurn acquires whole-turn exclusivity for this session. Any turn
// still in flight (typically a streaming generation) is superseded: its
// context is cancelled, and BeginTurn blocks until it winds down and
// releases the turn lock. The returned context governs this turn's
// classifier and generation calls; end releases exclusivity and must be
// called exactly once.
func (s *Session) BeginTurn(ctx context.Context) (turnCtx context.Context, end func()) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.turnMu.Lock()

	turnCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	end = func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
		s.turnMu.Unlock()
	}
	return turnCtx, end
}

// Snapshot is the serialized form of a session used by durable stores.
type Snapshot struct {
	Key      string             `json:"key"`
	History  []protocol.Message `json:"history"`
	Metrics  triage.Metrics     `json:"metrics"`
	RemoteID string             `json:"remote_id,omitempty"`
}

// Snapshot captures the persistable state under the session lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Key:      s.key,
		History:  slices.Clone(s.history),
		Metrics:  s.metrics,
		RemoteID: s.remoteID,
	}
}

func restoreSession(snap Snapshot) *Session {
	s := newSession(snap.Key)
	s.history = slices.Clone(snap.History)
	s.metrics = snap.Metrics
	s.remoteID = snap.RemoteID
	return s
}
