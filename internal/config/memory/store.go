// Package memory provides an in-memory config.Store implementation.
// Used by tests; the CLI loads its configuration from a file. Configuration
// is not persisted across restarts.
package memory

import (
	"context"
	"sync"

	"connectorsync/internal/config"
)

// Store is an in-memory config.Store implementation.
type Store struct {
	mu  sync.RWMutex
	cfg *config.Config
}

var _ config.Store = (*Store)(nil)

// NewStore creates an empty in-memory Store.
func NewStore() *Store {
	return &Store{}
}

// Load returns a copy of the stored configuration, or nil if none was saved.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, nil
	}
	cp := *s.cfg
	cp.ServiceTypes = append([]string(nil), s.cfg.ServiceTypes...)
	return &cp, nil
}

// Save stores a copy of cfg.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	cp.ServiceTypes = append([]string(nil), cfg.ServiceTypes...)
	s.cfg = &cp
	return nil
}
