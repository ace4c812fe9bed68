// Package features answers which sync-rule generation a connector's
// service supports, based on the feature-flag document embedded on the
// Connector Record.
package features

// Tag identifies one feature flag.
type Tag string

const (
	BasicRulesNew    Tag = "basic_rules_new"
	AdvancedRulesNew Tag = "advanced_rules_new"
	BasicRulesOld    Tag = "basic_rules_old"
	AdvancedRulesOld Tag = "advanced_rules_old"
)

// Features wraps the raw feature-flag document.
type Features struct {
	raw map[string]any
}

// New wraps a feature document. A nil or empty document answers every
// feature_enabled query with false.
func New(raw map[string]any) Features {
	if raw == nil {
		raw = map[string]any{}
	}
	return Features{raw: raw}
}

// boolAt walks raw following keys and returns the boolean found there, or
// false if any segment is missing or not the expected type.
func boolAt(raw map[string]any, keys ...string) bool {
	var cur any = raw
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		cur, ok = m[k]
		if !ok {
			return false
		}
	}
	b, _ := cur.(bool)
	return b
}

// FeatureEnabled reports whether tag is enabled. A missing path anywhere
// along the way defaults to false.
func (f Features) FeatureEnabled(tag Tag) bool {
	switch tag {
	case BasicRulesNew:
		return boolAt(f.raw, "sync_rules", "basic", "enabled")
	case AdvancedRulesNew:
		return boolAt(f.raw, "sync_rules", "advanced", "enabled")
	case BasicRulesOld:
		return boolAt(f.raw, "filtering_rules")
	case AdvancedRulesOld:
		return boolAt(f.raw, "filtering_advanced_config")
	default:
		return false
	}
}

// SyncRulesEnabled is the OR of all four feature tags.
func (f Features) SyncRulesEnabled() bool {
	return f.FeatureEnabled(BasicRulesNew) ||
		f.FeatureEnabled(AdvancedRulesNew) ||
		f.FeatureEnabled(BasicRulesOld) ||
		f.FeatureEnabled(AdvancedRulesOld)
}
