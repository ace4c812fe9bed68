// Package home manages the connector service's home directory layout.
//
// The home directory owns the service's own bootstrap config file. It
// does not hold any connector or sync-job data — that lives in the
// search cluster (spec.md §3), and Source adapters carry no local
// on-disk state of their own (the bulk diff against the target index is
// the only bookmark the engine needs, per spec.md §4.6).
//
// Layout:
//
//	<root>/
//	  connectorsync.json
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents a connector service home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/connectorsync
//   - macOS:   ~/Library/Application Support/connectorsync
//   - Windows: %APPDATA%/connectorsync
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "connectorsync")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the default path to the service's JSON config file
// within the home directory.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "connectorsync.json")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}
