package session

import "context"

// Store dispenses sessions by key. Implementations must return the same
// *Session for concurrent Get calls on one key so that BeginTurn can
// serialize turns.
type Store interface {
	// Get returns the session for key, creating it if absent.
	Get(ctx context.Context, key string) (*Session, error)

	// Save persists the session's current snapshot. In-memory stores
	// treat this as a no-op.
	Save(ctx context.Context, s *Session) error

	// Reset discards all state for key. Resetting an unknown key is
	// not an error.
	Reset(ctx context.Context, key string) error

	// Close releases any backing resources.
	Close() error
}
