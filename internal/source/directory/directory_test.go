package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"connectorsync/internal/source"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestSource_GetDocs_YieldsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "a.txt", "hello")
	writeTempFile(t, dir, "b.txt", "world")
	writeTempFile(t, dir, "c.log", "ignored")

	src := New(Config{Patterns: []string{filepath.Join(dir, "*.txt")}, MaxBytes: 1 << 20}, nil)
	defer func() { _ = src.Close() }()

	var got []string
	for y, err := range src.GetDocs(context.Background(), nil) {
		if err != nil {
			t.Fatalf("GetDocs: %v", err)
		}
		got = append(got, y.Doc.ID)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(got), got)
	}
}

func TestSource_Download_ReadsFileBody(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "a.txt", "hello world")

	src := New(Config{Patterns: []string{filepath.Join(dir, "*.txt")}, MaxBytes: 1 << 20}, nil)
	defer func() { _ = src.Close() }()

	for y, err := range src.GetDocs(context.Background(), nil) {
		if err != nil {
			t.Fatalf("GetDocs: %v", err)
		}
		fields, err := y.Download(context.Background(), true, "")
		if err != nil {
			t.Fatalf("Download: %v", err)
		}
		if fields["body"] != "hello world" {
			t.Errorf("got body %q", fields["body"])
		}
	}
}

func TestSource_Download_SkipsWhenNotNeeded(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "a.txt", "hello")

	src := New(Config{Patterns: []string{filepath.Join(dir, "*.txt")}, MaxBytes: 1 << 20}, nil)
	defer func() { _ = src.Close() }()

	for y, err := range src.GetDocs(context.Background(), nil) {
		if err != nil {
			t.Fatalf("GetDocs: %v", err)
		}
		fields, err := y.Download(context.Background(), false, "")
		if err != nil {
			t.Fatalf("Download: %v", err)
		}
		if fields != nil {
			t.Errorf("expected nil fields when doit=false, got %v", fields)
		}
	}
}

func TestSource_Ping_MissingDirectory(t *testing.T) {
	src := New(Config{Patterns: []string{"/nonexistent-path-xyz/*.txt"}, MaxBytes: 1 << 20}, nil)
	defer func() { _ = src.Close() }()

	if err := src.Ping(context.Background()); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestParseConfig_MissingPatterns(t *testing.T) {
	if _, err := parseConfig(map[string]any{}); err == nil {
		t.Error("expected error for missing patterns")
	}
}

func TestSource_TweakBulkOptions_LowersConcurrency(t *testing.T) {
	src := New(Config{Patterns: []string{"/tmp/*.txt"}, MaxBytes: 1 << 20}, nil)
	defer func() { _ = src.Close() }()

	got := src.TweakBulkOptions(source.BulkOptions{ConcurrentDownloads: 10, ChunkSize: 500})
	if got.ConcurrentDownloads != localDiskConcurrentDownloads {
		t.Errorf("expected concurrent downloads %d, got %d", localDiskConcurrentDownloads, got.ConcurrentDownloads)
	}
	if got.ChunkSize != 500 {
		t.Errorf("expected chunk size left untouched, got %d", got.ChunkSize)
	}
}

func TestParseConfig_Valid(t *testing.T) {
	cfg, err := parseConfig(map[string]any{
		"patterns":  []any{"/tmp/*.log"},
		"max_bytes": float64(2048),
	})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if len(cfg.Patterns) != 1 || cfg.MaxBytes != 2048 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
