package session

// Config holds session store parameters.
type Config struct {
	// Path is the SQLite database file for durable sessions. Empty
	// selects the in-memory store.
	Path string `json:"path,omitempty"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source == nil {
		return
	}
	if source.Path != "" {
		c.Path = source.Path
	}
}

// New creates a Store from configuration.
func New(cfg *Config) (Store, error) {
	if cfg != nil && cfg.Path != "" {
		return NewSQLiteStore(cfg.Path)
	}
	return NewMemoryStore(), nil
}
