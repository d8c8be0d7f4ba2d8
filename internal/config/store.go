package config

import "sync/atomic"

// Store holds the live configuration for lock-free reads on the audio path.
// The watcher swaps in reloaded configs; every frame handler reads the
// current snapshot without blocking.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the live config snapshot. The returned value must be
// treated as read-only.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Swap replaces the live config.
func (s *Store) Swap(cfg *Config) {
	s.current.Store(cfg)
}
