package connector

import (
	"context"
	"testing"
	"time"

	"connectorsync/internal/searchindex"
	"connectorsync/internal/searchindex/memclient"
)

func newGateway() *searchindex.Gateway[*Connector] {
	return searchindex.New(memclient.New(), ".elastic-connectors", MakeConnector, nil)
}

func TestConnector_StatusDefaultsToCreated(t *testing.T) {
	c := New("conn-1", newGateway())
	if c.Status() != Created {
		t.Errorf("expected created, got %s", c.Status())
	}
}

func TestConnector_StatusNeedsConfiguration(t *testing.T) {
	c := New("conn-1", newGateway())
	if err := c.SetStatus(Configured); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	c.SetConfiguration(map[string]ConfigValue{
		"cool":  {Value: "foo"},
		"cool2": {Value: nil},
	})
	if c.Status() != NeedsConfiguration {
		t.Errorf("expected needs_configuration override, got %s", c.Status())
	}

	c.SetConfiguration(map[string]ConfigValue{
		"cool":  {Value: "foo"},
		"cool2": {Value: "baz"},
	})
	if c.Status() != Configured {
		t.Errorf("expected configured once all fields set, got %s", c.Status())
	}
}

func TestConnector_SetStatus_InvalidRejected(t *testing.T) {
	c := New("conn-1", newGateway())
	if err := c.SetStatus(Status("bogus")); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestConnector_SyncDocMarksClean(t *testing.T) {
	gw := newGateway()
	c := New("conn-1", gw)
	c.SetServiceType("directory")

	ctx := context.Background()
	if err := c.SyncDoc(ctx); err != nil {
		t.Fatalf("SyncDoc: %v", err)
	}

	got := collectOne(t, gw, "conn-1")
	if got.ServiceType != "directory" {
		t.Errorf("expected persisted service_type, got %q", got.ServiceType)
	}
}

func TestConnector_Prepare_SetsServiceTypeAndDefaults(t *testing.T) {
	c := New("conn-1", newGateway())
	c.ServiceType = "mongodb"

	serviceConfigs := map[string]ServiceConfig{
		"mongodb": {
			DefaultConfiguration: func() map[string]ConfigValue {
				return map[string]ConfigValue{"one": {Value: nil}}
			},
		},
	}

	if err := c.Prepare(serviceConfigs); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if c.Status() != NeedsConfiguration {
		t.Errorf("expected needs_configuration after missing default field, got %s", c.Status())
	}
}

func TestConnector_Prepare_UnknownServiceType(t *testing.T) {
	c := New("conn-1", newGateway())
	c.ServiceType = "unknown"

	if err := c.Prepare(map[string]ServiceConfig{}); err == nil {
		t.Error("expected error for unknown service_type")
	}
}

func TestConnector_Prepare_PreservesExistingValues(t *testing.T) {
	c := New("conn-1", newGateway())
	c.ServiceType = "mongodb"
	c.Configuration = map[string]ConfigValue{"one": {Value: "configured-value"}}

	serviceConfigs := map[string]ServiceConfig{
		"mongodb": {
			DefaultConfiguration: func() map[string]ConfigValue {
				return map[string]ConfigValue{"one": {Value: nil}}
			},
		},
	}
	if err := c.Prepare(serviceConfigs); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if c.Configuration["one"].Value != "configured-value" {
		t.Errorf("expected existing value preserved, got %v", c.Configuration["one"].Value)
	}
	if c.Status() != Created {
		t.Errorf("expected created status unaffected, got %s", c.Status())
	}
}

func TestConnector_Heartbeat_IdempotentAndCooperative(t *testing.T) {
	gw := newGateway()
	c := New("conn-1", gw)
	c.SetServiceType("directory")
	_ = c.SyncDoc(context.Background())

	ctx := context.Background()
	c.StartHeartbeat(ctx, 20*time.Millisecond)
	c.StartHeartbeat(ctx, time.Second) // no-op, per spec.md idempotency

	time.Sleep(80 * time.Millisecond)
	c.Close()

	got := collectOne(t, gw, "conn-1")
	if got.LastSeen.IsZero() {
		t.Error("expected last_seen to have advanced via heartbeat")
	}
}

func TestConnector_StaleThreshold(t *testing.T) {
	c := New("conn-1", newGateway())
	now := time.Now()

	if !c.StaleThreshold(time.Minute, now) {
		t.Error("expected stale when last_seen never set")
	}

	c.touchLastSeen(now.Add(-2 * time.Minute))
	if !c.StaleThreshold(time.Minute, now) {
		t.Error("expected stale when last_seen older than threshold")
	}

	c.touchLastSeen(now)
	if c.StaleThreshold(time.Minute, now) {
		t.Error("expected fresh when last_seen just updated")
	}
}

func TestValidateIndexName(t *testing.T) {
	valid := []string{"widgets", "my-index_1"}
	for _, name := range valid {
		if err := ValidateIndexName(name); err != nil {
			t.Errorf("expected %q valid, got %v", name, err)
		}
	}

	invalid := []string{"", "Widgets", "has space", "-starts-dash", ".elastic-connectors", ".search-acl-filter-foo"}
	for _, name := range invalid {
		if err := ValidateIndexName(name); err == nil {
			t.Errorf("expected %q invalid", name)
		}
	}
}

func collectOne(t *testing.T, gw *searchindex.Gateway[*Connector], id string) *Connector {
	t.Helper()
	for c, err := range gw.GetAll(context.Background(), nil, 10) {
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("connector %s not found", id)
	return nil
}
