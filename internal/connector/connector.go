// Package connector implements the Connector Record: the persisted
// control-index document describing one data source's identity,
// configuration, schedule, and sync status, plus the claim/heartbeat
// mechanics the Orchestrator drives it through each tick.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"connectorsync/internal/features"
	"connectorsync/internal/filter"
	"connectorsync/internal/logging"
	"connectorsync/internal/searchindex"
)

// reservedIndexNames blocks a connector from targeting a control index as
// its own sync target.
var reservedIndexNames = map[string]bool{
	".elastic-connectors":           true,
	".elastic-connectors-sync-jobs": true,
}

const reservedIndexPrefix = ".search-acl-filter-"

// ValidateIndexName checks name against spec.md §3's index-name rules:
// lower-case, not starting with -, _, +, or ., no whitespace, non-empty,
// and not one of the reserved control-index names.
func ValidateIndexName(name string) error {
	if name == "" {
		return fmt.Errorf("index name must not be empty")
	}
	if name != strings.ToLower(name) {
		return fmt.Errorf("index name %q must be lower-case", name)
	}
	if strings.ContainsAny(name, " \t\n\r") {
		return fmt.Errorf("index name %q must not contain whitespace", name)
	}
	if strings.IndexAny(name[:1], "-_+.") == 0 {
		return fmt.Errorf("index name %q must not start with -, _, +, or .", name)
	}
	if reservedIndexNames[name] || strings.HasPrefix(name, reservedIndexPrefix) {
		return fmt.Errorf("index name %q is reserved for internal use", name)
	}
	return nil
}

// Status is the Connector Record's lifecycle status. Status() reports
// needs_configuration whenever a configured field has a null value,
// overriding whatever status is persisted; the value can also be stored
// directly (SetStatus accepts it, and Prepare sets it when a default
// field has no value).
type Status string

const (
	Created            Status = "created"
	NeedsConfiguration Status = "needs_configuration"
	Configured         Status = "configured"
	Connected          Status = "connected"
	Error              Status = "error"
)

func validStatus(s Status) bool {
	switch s {
	case Created, NeedsConfiguration, Configured, Connected, Error:
		return true
	default:
		return false
	}
}

// ConfigValue is one entry of the configuration map: field-name ->
// {value, label, type}.
type ConfigValue struct {
	Value any    `json:"value"`
	Label string `json:"label,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Scheduling holds the connector's own cron schedule.
type Scheduling struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
}

// Connector is one Connector Record. It is a plain value struct: setters
// mark it dirty and SyncDoc flushes the change through a
// searchindex.Gateway, per spec.md §4.5.
type Connector struct {
	ID             string
	ServiceType    string
	IndexName      string
	Configuration  map[string]ConfigValue
	Language       string
	Scheduling     Scheduling
	SyncNow        bool
	LastSyncStatus string
	LastSyncError  string
	LastSynced     time.Time
	LastSeen       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Pipeline       string
	Filtering      filter.Filtering
	FilteringRaw   []filter.Block
	Features       features.Features
	FeaturesRaw    map[string]any

	status  Status
	gateway *searchindex.Gateway[*Connector]
	logger  *slog.Logger
	dirty   bool
	now     func() time.Time

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

// MakeConnector hydrates a raw Hit into a *Connector.
func MakeConnector(hit searchindex.Hit) (*Connector, error) {
	c := &Connector{ID: hit.ID, now: time.Now}
	src := hit.Source

	if v, ok := src["service_type"].(string); ok {
		c.ServiceType = v
	}
	if v, ok := src["index_name"].(string); ok {
		c.IndexName = v
	}
	if v, ok := src["language"].(string); ok {
		c.Language = v
	}
	if v, ok := src["sync_now"].(bool); ok {
		c.SyncNow = v
	}
	if v, ok := src["last_sync_status"].(string); ok {
		c.LastSyncStatus = v
	}
	if v, ok := src["last_sync_error"].(string); ok {
		c.LastSyncError = v
	}
	if v, ok := src["pipeline"].(string); ok {
		c.Pipeline = v
	}
	if v, ok := src["status"].(string); ok {
		c.status = Status(v)
	}
	c.LastSynced = parseTimeField(src, "last_synced")
	c.LastSeen = parseTimeField(src, "last_seen")
	c.CreatedAt = parseTimeField(src, "created_at")
	c.UpdatedAt = parseTimeField(src, "updated_at")

	if sched, ok := src["scheduling"].(map[string]any); ok {
		if enabled, ok := sched["enabled"].(bool); ok {
			c.Scheduling.Enabled = enabled
		}
		if interval, ok := sched["interval"].(string); ok {
			c.Scheduling.Interval = interval
		}
	}

	c.Configuration = parseConfiguration(src["configuration"])

	c.FeaturesRaw, _ = src["features"].(map[string]any)
	c.Features = features.New(c.FeaturesRaw)

	c.FilteringRaw = parseFilteringBlocks(src["filtering"])
	c.Filtering = filter.NewFiltering(c.FilteringRaw)

	return c, nil
}

func parseTimeField(src map[string]any, key string) time.Time {
	v, ok := src[key].(string)
	if !ok || v == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, v)
	return t
}

func parseConfiguration(raw any) map[string]ConfigValue {
	m, ok := raw.(map[string]any)
	if !ok {
		return map[string]ConfigValue{}
	}
	out := make(map[string]ConfigValue, len(m))
	for k, v := range m {
		field, ok := v.(map[string]any)
		if !ok {
			continue
		}
		cv := ConfigValue{Value: field["value"]}
		if s, ok := field["label"].(string); ok {
			cv.Label = s
		}
		if s, ok := field["type"].(string); ok {
			cv.Type = s
		}
		out[k] = cv
	}
	return out
}

func parseFilteringBlocks(raw any) []filter.Block {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	blocks := make([]filter.Block, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		block := filter.Block{}
		if d, ok := m["domain"].(string); ok {
			block.Domain = d
		}
		if d, ok := m["draft"].(map[string]any); ok {
			block.Draft = d
		}
		if a, ok := m["active"].(map[string]any); ok {
			block.Active = a
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// New constructs a bare Connector, for tests and for seeding a fresh
// control-index document outside of hydration from a search result.
func New(id string, gateway *searchindex.Gateway[*Connector]) *Connector {
	return &Connector{
		ID:            id,
		status:        Created,
		Configuration: map[string]ConfigValue{},
		gateway:       gateway,
		now:           time.Now,
	}
}

// Bind attaches a gateway and logger after hydration. The gateway factory
// (searchindex.New's Factory[T]) cannot take extra constructor arguments,
// so callers bind these once per batch right after GetAll yields a
// record.
func (c *Connector) Bind(gateway *searchindex.Gateway[*Connector], logger *slog.Logger) {
	c.gateway = gateway
	c.logger = logging.WithConnector(logger, c.ID, "")
}

// Status returns the derived status: needs_configuration overrides
// whatever is stored whenever any configured field has a null value.
func (c *Connector) Status() Status {
	for _, v := range c.Configuration {
		if v.Value == nil {
			return NeedsConfiguration
		}
	}
	if c.status == "" {
		return Created
	}
	return c.status
}

// SetStatus validates status against the known values (NeedsConfiguration
// included) and stores it, marking the record dirty.
func (c *Connector) SetStatus(status Status) error {
	if !validStatus(status) {
		return fmt.Errorf("invalid connector status: %q", status)
	}
	c.status = status
	c.dirty = true
	return nil
}

// SetServiceType sets service_type and marks the record dirty.
func (c *Connector) SetServiceType(serviceType string) {
	c.ServiceType = serviceType
	c.dirty = true
}

// SetConfiguration replaces the configuration map and marks the record
// dirty. Status() re-derives needs_configuration on the next read.
func (c *Connector) SetConfiguration(cfg map[string]ConfigValue) {
	c.Configuration = cfg
	c.dirty = true
}

// SetError records error and marks the record dirty.
func (c *Connector) SetError(msg string) {
	c.LastSyncError = msg
	c.dirty = true
}

// SetLastSyncStatus records last_sync_status and marks the record dirty.
func (c *Connector) SetLastSyncStatus(status string) {
	c.LastSyncStatus = status
	c.dirty = true
}

// SetLastSynced records last_synced and marks the record dirty.
func (c *Connector) SetLastSynced(t time.Time) {
	c.LastSynced = t
	c.dirty = true
}

// touchLastSeen updates last_seen and marks the record dirty. Unexported:
// only the heartbeat and claim paths update this field.
func (c *Connector) touchLastSeen(now time.Time) {
	c.LastSeen = now
	c.dirty = true
}

// StartHeartbeat launches a cooperative background goroutine that updates
// last_seen and flushes every interval, proving to other replicas that
// this one still owns the sync. Subsequent calls are no-ops: only the
// first start takes effect, matching spec.md §4.5's idempotency
// requirement.
func (c *Connector) StartHeartbeat(ctx context.Context, interval time.Duration) {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	if c.hbCancel != nil {
		return
	}

	hbCtx, cancel := context.WithCancel(ctx)
	c.hbCancel = cancel
	c.hbDone = make(chan struct{})

	go func() {
		defer close(c.hbDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				c.touchLastSeen(c.clock())
				if err := c.SyncDoc(hbCtx); err != nil {
					logging.Default(c.logger).Warn("heartbeat flush failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the heartbeat goroutine (if running) and waits for it to
// exit. Close is itself idempotent.
func (c *Connector) Close() {
	c.hbMu.Lock()
	cancel := c.hbCancel
	done := c.hbDone
	c.hbCancel = nil
	c.hbMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Connector) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// StaleThreshold reports whether last_seen is stale relative to
// threshold, meaning no replica currently appears to own this connector.
func (c *Connector) StaleThreshold(threshold time.Duration, now time.Time) bool {
	if c.LastSeen.IsZero() {
		return true
	}
	return now.Sub(c.LastSeen) > threshold
}

// ServiceConfig describes, per service_type, the Source's default
// configuration — the minimum the Orchestrator needs to
// resolve and prepare a connector without importing concrete Source
// adapters.
type ServiceConfig struct {
	DefaultConfiguration func() map[string]ConfigValue
}

// Prepare resolves service_type, merges configuration with the Source's
// declared defaults, and flips status to needs_configuration if any
// expected field is missing. serviceConfigs maps service_type ->
// ServiceConfig, mirroring the Orchestrator's statically-configured
// source registry.
func (c *Connector) Prepare(serviceConfigs map[string]ServiceConfig) error {
	if c.ServiceType == "" {
		return fmt.Errorf("connector %s: service_type not set and cannot be resolved", c.ID)
	}
	svc, ok := serviceConfigs[c.ServiceType]
	if !ok {
		return fmt.Errorf("connector %s: unknown service_type %q", c.ID, c.ServiceType)
	}

	defaults := svc.DefaultConfiguration()
	merged := make(map[string]ConfigValue, len(defaults))
	needsConfig := false
	for field, def := range defaults {
		if existing, ok := c.Configuration[field]; ok && existing.Value != nil {
			merged[field] = existing
			continue
		}
		merged[field] = def
		if def.Value == nil {
			needsConfig = true
		}
	}
	c.Configuration = merged
	c.dirty = true

	if needsConfig {
		c.status = NeedsConfiguration
	}
	return nil
}

// doc renders the current in-memory state to the wire document shape.
func (c *Connector) doc() map[string]any {
	cfg := make(map[string]any, len(c.Configuration))
	for k, v := range c.Configuration {
		cfg[k] = map[string]any{"value": v.Value, "label": v.Label, "type": v.Type}
	}

	filtering := make([]map[string]any, 0, len(c.FilteringRaw))
	for _, block := range c.FilteringRaw {
		filtering = append(filtering, map[string]any{
			"domain": block.Domain,
			"draft":  block.Draft,
			"active": block.Active,
		})
	}

	return map[string]any{
		"service_type":     c.ServiceType,
		"index_name":       c.IndexName,
		"configuration":    cfg,
		"language":         c.Language,
		"scheduling":       map[string]any{"enabled": c.Scheduling.Enabled, "interval": c.Scheduling.Interval},
		"sync_now":         c.SyncNow,
		"status":           string(c.Status()),
		"last_sync_status": c.LastSyncStatus,
		"last_sync_error":  c.LastSyncError,
		"last_synced":      formatTime(c.LastSynced),
		"last_seen":        formatTime(c.LastSeen),
		"created_at":       formatTime(c.CreatedAt),
		"updated_at":       formatTime(c.clock().UTC()),
		"pipeline":         c.Pipeline,
		"filtering":        filtering,
		"features":         c.FeaturesRaw,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// SyncDoc flushes the in-memory record to the control index if dirty, and
// clears the dirty flag.
func (c *Connector) SyncDoc(ctx context.Context) error {
	if !c.dirty || c.gateway == nil {
		c.dirty = false
		return nil
	}
	if err := c.gateway.Upsert(ctx, c.ID, c.doc()); err != nil {
		return fmt.Errorf("sync_doc connector %s: %w", c.ID, err)
	}
	c.dirty = false
	return nil
}

// ClearSyncNow clears the one-shot sync_now flag after a sync has been
// accepted.
func (c *Connector) ClearSyncNow() {
	c.SyncNow = false
	c.dirty = true
}
