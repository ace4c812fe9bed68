// Package file provides a JSON-file config.Store implementation, the
// store backing the service's --config-file flag.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"connectorsync/internal/config"
)

// Store reads and writes a single config.Config as a JSON document at
// path.
type Store struct {
	path string
}

var _ config.Store = (*Store)(nil)

// NewStore returns a Store backed by path. The file need not exist yet;
// Load returns a nil config until Save (or an operator-edited file)
// creates it.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads and unmarshals the config file. A missing file is not an
// error: it returns a nil config, matching config.Store's documented
// "none exists yet" contract.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", s.path, err)
	}

	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", s.path, err)
	}
	return &cfg, nil
}

// Save marshals cfg as indented JSON and writes it to path, creating any
// missing parent directory.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write config file %s: %w", s.path, err)
	}
	return nil
}
