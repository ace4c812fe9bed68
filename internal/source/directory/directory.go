// Package directory implements a Source over a local filesystem: one or
// more doublestar glob patterns are expanded to a set of regular files,
// each yielded as one document keyed by its absolute path.
package directory

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"connectorsync/internal/logging"
	"connectorsync/internal/source"
)

// Config is the directory Source's configuration, parsed from a
// connector's merged Configuration map.
type Config struct {
	Patterns []string
	MaxBytes int64
}

// DefaultConfiguration returns the field defaults registered for the
// "directory" service_type.
func DefaultConfiguration() map[string]source.ConfigField {
	return map[string]source.ConfigField{
		"patterns": {
			Value: nil,
			Label: "Glob patterns (one per line)",
			Type:  source.FieldList,
		},
		"max_bytes": {
			Value: int64(10 << 20),
			Label: "Maximum bytes read per file",
			Type:  source.FieldInt,
		},
	}
}

// Adapter is the registry.Adapter for the "directory" service_type.
var Adapter = source.Adapter{
	DefaultConfiguration: DefaultConfiguration,
	New: func(configuration map[string]any) (source.Source, error) {
		cfg, err := parseConfig(configuration)
		if err != nil {
			return nil, err
		}
		return New(cfg, nil), nil
	},
}

func parseConfig(configuration map[string]any) (Config, error) {
	var cfg Config
	raw, ok := configuration["patterns"]
	if !ok {
		return cfg, fmt.Errorf("directory source: missing required field %q", "patterns")
	}
	items, ok := raw.([]any)
	if !ok {
		return cfg, fmt.Errorf("directory source: %q must be a list", "patterns")
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok || s == "" {
			return cfg, fmt.Errorf("directory source: %q entries must be non-empty strings", "patterns")
		}
		cfg.Patterns = append(cfg.Patterns, s)
	}
	if len(cfg.Patterns) == 0 {
		return cfg, fmt.Errorf("directory source: %q must contain at least one pattern", "patterns")
	}

	cfg.MaxBytes = int64(10 << 20)
	if v, ok := configuration["max_bytes"]; ok {
		switch n := v.(type) {
		case int64:
			cfg.MaxBytes = n
		case int:
			cfg.MaxBytes = int64(n)
		case float64:
			cfg.MaxBytes = int64(n)
		}
	}
	return cfg, nil
}

// Source adapts a set of local glob patterns to the source.Source
// capability. It satisfies source.ChangeDetector and source.Closer.
type Source struct {
	patterns []string
	maxBytes int64
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	dirty   atomic.Bool
	done    chan struct{}
}

var (
	_ source.Source             = (*Source)(nil)
	_ source.ChangeDetector     = (*Source)(nil)
	_ source.Closer             = (*Source)(nil)
	_ source.BulkOptionsTweaker = (*Source)(nil)
)

// localDiskConcurrentDownloads caps concurrent reads against local disk
// well below the coordinator's network-oriented default, since disk
// contention degrades throughput rather than just adding latency.
const localDiskConcurrentDownloads = 4

// New builds a directory Source. If a watcher can be established on the
// patterns' static directory prefixes, Changed() reports filesystem
// activity since the last call; otherwise Changed() always reports true,
// so a sync is never incorrectly skipped.
func New(cfg Config, logger *slog.Logger) *Source {
	s := &Source{
		patterns: cfg.Patterns,
		maxBytes: cfg.MaxBytes,
		logger:   logging.Default(logger).With("component", "source", "type", "directory"),
	}
	s.dirty.Store(true)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, change detection disabled", "error", err)
		return s
	}
	for _, dir := range watchDirsForPatterns(cfg.Patterns) {
		if err := watcher.Add(dir); err != nil {
			s.logger.Warn("failed to watch directory", "dir", dir, "error", err)
		}
	}
	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watchLoop()
	return s
}

func (s *Source) watchLoop() {
	defer close(s.done)
	for {
		select {
		case _, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.dirty.Store(true)
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Ping verifies every configured pattern's static directory prefix
// exists and is readable.
func (s *Source) Ping(ctx context.Context) error {
	for _, dir := range watchDirsForPatterns(s.patterns) {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("directory source: %w", err)
		}
	}
	return nil
}

// Changed reports whether any filesystem event has fired since the last
// call (or since startup, for the first call). Always true when the
// watcher could not be established.
func (s *Source) Changed(ctx context.Context) (bool, error) {
	if s.watcher == nil {
		return true, nil
	}
	return s.dirty.Swap(false), nil
}

// TweakBulkOptions lowers concurrent_downloads for local disk reads,
// where parallel reads contend for the same spindle/page cache rather
// than overlapping independent network round-trips.
func (s *Source) TweakBulkOptions(opts source.BulkOptions) source.BulkOptions {
	opts.ConcurrentDownloads = localDiskConcurrentDownloads
	return opts
}

// Close stops the background filesystem watcher.
func (s *Source) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	<-s.done
	return err
}

// GetDocs expands the configured patterns and yields one document per
// matching regular file, keyed by absolute path with its modification
// time as _timestamp. filtering is accepted for interface conformance;
// this Source applies no basic or advanced rules of its own.
func (s *Source) GetDocs(ctx context.Context, filtering source.Filtering) iter.Seq2[source.Yield, error] {
	return func(yield func(source.Yield, error) bool) {
		paths, err := discoverFiles(s.patterns)
		if err != nil {
			s.logger.Error("pattern discovery failed, ending sync", "error", err)
			return
		}

		for _, path := range paths {
			if ctx.Err() != nil {
				return
			}
			info, err := os.Stat(path)
			if err != nil {
				s.logger.Warn("skipping file", "path", path, "error", err)
				continue
			}

			path := path
			doc := source.Doc{
				ID:        path,
				Timestamp: info.ModTime().UTC().Format(time.RFC3339Nano),
				Fields: map[string]any{
					"path": path,
					"size": info.Size(),
				},
			}
			download := func(ctx context.Context, doit bool, timestamp string) (map[string]any, error) {
				if !doit {
					return nil, nil
				}
				body, err := s.readFile(path)
				if err != nil {
					return nil, err
				}
				return map[string]any{"body": body}, nil
			}

			if !yield(source.Yield{Doc: doc, Download: download}, nil) {
				return
			}
		}
	}
}

func (s *Source) readFile(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// discoverFiles returns deduplicated absolute paths of regular files
// matching any of the given glob patterns.
func discoverFiles(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string

	for _, pattern := range patterns {
		pattern, err := absPattern(pattern)
		if err != nil {
			return nil, err
		}

		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, err
		}

		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				continue
			}
			info, err := os.Stat(abs)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if !seen[abs] {
				seen[abs] = true
				result = append(result, abs)
			}
		}
	}
	return result, nil
}

// watchDirsForPatterns extracts the static directory prefixes from glob
// patterns for use with fsnotify directory watching.
func watchDirsForPatterns(patterns []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, pattern := range patterns {
		abs, err := absPattern(pattern)
		if err != nil {
			continue
		}
		dir := staticPrefix(abs)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func absPattern(pattern string) (string, error) {
	if filepath.IsAbs(pattern) {
		return pattern, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, pattern), nil
}

// staticPrefix returns the longest directory path before the first glob
// metacharacter.
func staticPrefix(pattern string) string {
	for i, c := range pattern {
		if c == '*' || c == '?' || c == '[' || c == '{' {
			return filepath.Dir(pattern[:i])
		}
	}
	return filepath.Dir(pattern)
}
