package bodyutil

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

func TestReadBody_Identity(t *testing.T) {
	got, err := ReadBody(strings.NewReader("hello world"), "", 1<<20)
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestReadBody_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte("gzipped body")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := ReadBody(&buf, "gzip", 1<<20)
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if string(got) != "gzipped body" {
		t.Errorf("got %q", got)
	}
}

func TestReadBody_Zstd(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	compressed := enc.EncodeAll([]byte("zstd body"), nil)
	_ = enc.Close()

	got, err := ReadBody(bytes.NewReader(compressed), "zstd", 1<<20)
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if string(got) != "zstd body" {
		t.Errorf("got %q", got)
	}
}

func TestReadBody_Brotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	if _, err := bw.Write([]byte("brotli body")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := ReadBody(&buf, "br", 1<<20)
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if string(got) != "brotli body" {
		t.Errorf("got %q", got)
	}
}

func TestReadBody_UnsupportedEncoding(t *testing.T) {
	if _, err := ReadBody(strings.NewReader("x"), "compress", 1<<20); err == nil {
		t.Error("expected error for unsupported Content-Encoding")
	}
}

func TestReadBody_LimitsOutput(t *testing.T) {
	got, err := ReadBody(strings.NewReader("0123456789"), "", 4)
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("expected output capped at 4 bytes, got %d", len(got))
	}
}
