// Package generate drives text generation across an ordered list of
// backends. The cascade advances on any backend failure with no backoff;
// only exhausting the whole list is terminal. Streaming hands the caller a
// Stream of incremental deltas with a terminal error surfaced after the
// delta channel closes.
package generate

import (
	"context"

	"github.com/tailored-agentic-units/empath/core/protocol"
)

// Backend is one generation model endpoint.
type Backend interface {
	// Name identifies the backend in results and observability events.
	Name() string
	// Complete returns the full response text in one call.
	Complete(ctx context.Context, messages []protocol.Message) (string, error)
	// Stream starts an incremental generation. Construction fails fast
	// (before any delta) when the transport cannot be established; errors
	// after that surface through Stream.Err.
	Stream(ctx context.Context, messages []protocol.Message) (*Stream, error)
}

// Stream yields text deltas as the backend produces them. The producer
// closes the delta channel when generation ends; Err is meaningful only
// after that close, and reports nil for a clean end.
type Stream struct {
	model  string
	deltas <-chan string
	errc   <-chan error
}

// NewStream wires a Stream from producer channels. The producer contract:
// send any terminal error on errc (buffered) before closing deltas.
func NewStream(model string, deltas <-chan string, errc <-chan error) *Stream {
	return &Stream{model: model, deltas: deltas, errc: errc}
}

// Model returns the producing backend's name.
func (s *Stream) Model() string {
	return s.model
}

// Deltas returns the channel of incremental text fragments.
func (s *Stream) Deltas() <-chan string {
	return s.deltas
}

// Err reports the terminal stream error, nil for a clean end. Call after
// Deltas closes.
func (s *Stream) Err() error {
	select {
	case err := <-s.errc:
		return err
	default:
		return nil
	}
}
