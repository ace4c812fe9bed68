// Package source defines the Source capability every data-source adapter
// implements, and a registry mapping a connector's service_type to the
// adapter that handles it.
package source

import (
	"context"
	"fmt"
	"iter"
	"sync"
)

// FieldType is one of the four configuration field types a Source
// declares in its default configuration.
type FieldType string

const (
	FieldString FieldType = "str"
	FieldInt    FieldType = "int"
	FieldBool   FieldType = "bool"
	FieldList   FieldType = "list"
)

// ConfigField describes one configuration field: its default value (nil
// when the operator must supply one), a human label, and its type.
type ConfigField struct {
	Value any       `json:"value"`
	Label string    `json:"label"`
	Type  FieldType `json:"type"`
}

// Doc is one document yielded by a Source: an id, a timestamp used to
// detect staleness against the target index, and arbitrary further
// fields merged into the indexed body.
type Doc struct {
	ID        string
	Timestamp string
	Fields    map[string]any
}

// DownloadFunc lazily fetches a document's full body. doit reports
// whether the body is wanted; the adapters return nil without fetching
// when it is false. The Bulk Ingestion Coordinator calls it only for
// documents it will create or update, always with doit true, and does
// not call it for a document that is already current. timestamp, when
// non-empty, is the existing
// indexed document's _timestamp, which some sources use to request only
// the delta. A nil return means "nothing to merge" (the doc fields
// yielded by GetDocs are already complete).
type DownloadFunc func(ctx context.Context, doit bool, timestamp string) (map[string]any, error)

// Yield pairs a document with its (possibly lazy) download.
type Yield struct {
	Doc      Doc
	Download DownloadFunc
}

// BulkOptions are the per-sync tunables a Source may override via
// TweakBulkOptions.
type BulkOptions struct {
	ConcurrentDownloads int
	ChunkSize           int
	Pipeline            string
}

// Source is the capability every data-source adapter implements.
type Source interface {
	// Ping probes connectivity, returning an error if the source cannot
	// currently be reached or authenticated against.
	Ping(ctx context.Context) error

	// GetDocs returns a lazy sequence of (doc, download) pairs, honoring
	// filtering (the active filter's basic and advanced rules). The
	// sequence ends when the Source has yielded everything for this
	// sync, or ends early (with no error propagated to the caller) on a
	// fatal Source error — mirroring the same "log and terminate the
	// sequence" contract as the Search-Index Gateway's GetAll.
	GetDocs(ctx context.Context, filtering Filtering) iter.Seq2[Yield, error]
}

// Filtering is the minimal view of filter.Filtering a Source needs: its
// basic and advanced rules for one domain. Defined here (rather than
// importing internal/filter) to keep Source adapters independent of the
// connector package's types, per spec.md §1's "external collaborator"
// framing.
type Filtering interface {
	GetBasicRules() []map[string]any
	GetAdvancedRules() map[string]any
	HasAdvancedRules() bool
}

// BulkOptionsTweaker is an optional Source capability: adapters that want
// to override the coordinator's default concurrency/chunk-size/pipeline
// implement it (spec.md §6 "optional tweak_bulk_options").
type BulkOptionsTweaker interface {
	TweakBulkOptions(opts BulkOptions) BulkOptions
}

// ChangeDetector is an optional Source capability reporting whether the
// underlying data changed since the last sync. The orchestrator does not
// call it: every due connector is synced.
type ChangeDetector interface {
	Changed(ctx context.Context) (bool, error)
}

// Closer is an optional Source capability for releasing held resources
// (connections, watchers) at the end of a sync.
type Closer interface {
	Close() error
}

// Factory constructs a Source from a configuration mapping (the
// connector's merged, validated configuration values).
type Factory func(configuration map[string]any) (Source, error)

// Adapter bundles everything the registry needs for one service_type:
// its default configuration (used by Connector.Prepare to fill in
// missing fields) and its constructor.
type Adapter struct {
	DefaultConfiguration func() map[string]ConfigField
	New                  Factory
}

// Registry maps service_type -> Adapter. Registration happens once at
// startup (main wires in the concrete adapters the service is configured
// to run); lookups happen on every orchestrator tick, so reads must be
// cheap and safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the Adapter for serviceType.
func (r *Registry) Register(serviceType string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[serviceType] = adapter
}

// Get returns the Adapter registered for serviceType.
func (r *Registry) Get(serviceType string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[serviceType]
	return a, ok
}

// ServiceTypes returns every registered service_type.
func (r *Registry) ServiceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	return out
}

// New constructs a Source for serviceType using its registered Factory.
func (r *Registry) New(serviceType string, configuration map[string]any) (Source, error) {
	adapter, ok := r.Get(serviceType)
	if !ok {
		return nil, fmt.Errorf("unknown service_type %q", serviceType)
	}
	return adapter.New(configuration)
}
