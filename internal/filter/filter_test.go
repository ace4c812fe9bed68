package filter

import "testing"

func activeBlock() Block {
	return Block{
		Domain: DefaultDomain,
		Draft: map[string]any{
			"advanced_snippet": map[string]any{"value": map[string]any{"query": map[string]any{"options": map[string]any{}}}},
			"rules":            []any{map[string]any{"id": float64(1)}, map[string]any{"id": float64(2)}},
		},
		Active: map[string]any{
			"advanced_snippet": map[string]any{"value": map[string]any{"find": map[string]any{"settings": map[string]any{}}}},
			"rules":            []any{map[string]any{"id": float64(3)}},
		},
	}
}

func TestFilter_HasAdvancedRules(t *testing.T) {
	f := NewFilter(activeBlock().Active)
	if !f.HasAdvancedRules() {
		t.Error("expected advanced rules present")
	}

	empty := NewFilter(map[string]any{"rules": []any{}})
	if empty.HasAdvancedRules() {
		t.Error("expected no advanced rules")
	}
}

func TestFilter_GetAdvancedRules(t *testing.T) {
	f := NewFilter(activeBlock().Active)
	got := f.GetAdvancedRules()
	find, ok := got["find"]
	if !ok {
		t.Fatalf("expected 'find' key, got %+v", got)
	}
	if _, ok := find.(map[string]any); !ok {
		t.Errorf("expected map value for 'find'")
	}
}

func TestFilter_GetAdvancedRules_Missing(t *testing.T) {
	f := NewFilter(map[string]any{})
	got := f.GetAdvancedRules()
	if len(got) != 0 {
		t.Errorf("expected empty map, got %+v", got)
	}
}

func TestFilter_GetBasicRules(t *testing.T) {
	f := NewFilter(activeBlock().Draft)
	rules := f.GetBasicRules()
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
}

func TestFilter_GetBasicRules_Missing(t *testing.T) {
	f := NewFilter(map[string]any{})
	if rules := f.GetBasicRules(); len(rules) != 0 {
		t.Errorf("expected no rules, got %d", len(rules))
	}
}

func TestFiltering_Get_DefaultDomain(t *testing.T) {
	filtering := NewFiltering([]Block{activeBlock()})

	active := filtering.Get(Active, "")
	if !active.HasAdvancedRules() {
		t.Error("expected active filter for default domain to have advanced rules")
	}

	draft := filtering.Get(Draft, DefaultDomain)
	if len(draft.GetBasicRules()) != 2 {
		t.Error("expected draft filter to carry 2 basic rules")
	}
}

func TestFiltering_Get_NonexistentDomain(t *testing.T) {
	filtering := NewFiltering([]Block{activeBlock()})

	f := filtering.Get(Active, "other")
	if f.HasAdvancedRules() || len(f.GetBasicRules()) != 0 {
		t.Error("expected empty filter for nonexistent domain")
	}
}

func TestFiltering_Get_EmptySequence(t *testing.T) {
	filtering := NewFiltering(nil)

	f := filtering.Get(Active, DefaultDomain)
	if f.HasAdvancedRules() || len(f.GetBasicRules()) != 0 {
		t.Error("expected empty filter when filtering is entirely absent")
	}
}
