package source

import (
	"context"
	"iter"
	"testing"
)

type fakeSource struct {
	pingErr error
}

func (f *fakeSource) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeSource) GetDocs(ctx context.Context, filtering Filtering) iter.Seq2[Yield, error] {
	return func(yield func(Yield, error) bool) {
		yield(Yield{Doc: Doc{ID: "1", Timestamp: "2024-01-01T00:00:00Z"}}, nil)
	}
}

func fakeAdapter() Adapter {
	return Adapter{
		DefaultConfiguration: func() map[string]ConfigField {
			return map[string]ConfigField{
				"path": {Value: nil, Label: "Path", Type: FieldString},
			}
		},
		New: func(configuration map[string]any) (Source, error) {
			return &fakeSource{}, nil
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("directory", fakeAdapter())

	adapter, ok := r.Get("directory")
	if !ok {
		t.Fatal("expected adapter registered")
	}
	defaults := adapter.DefaultConfiguration()
	if defaults["path"].Type != FieldString {
		t.Errorf("unexpected field type: %v", defaults["path"].Type)
	}
}

func TestRegistry_New(t *testing.T) {
	r := NewRegistry()
	r.Register("directory", fakeAdapter())

	src, err := r.New("directory", map[string]any{"path": "/tmp"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if src == nil {
		t.Fatal("expected non-nil source")
	}
}

func TestRegistry_New_Unknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.New("nonexistent", nil); err == nil {
		t.Error("expected error for unknown service_type")
	}
}

func TestRegistry_ServiceTypes(t *testing.T) {
	r := NewRegistry()
	r.Register("directory", fakeAdapter())
	r.Register("s3", fakeAdapter())

	types := r.ServiceTypes()
	if len(types) != 2 {
		t.Errorf("expected 2 service types, got %d", len(types))
	}
}
