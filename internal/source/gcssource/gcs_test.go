package gcssource

import "testing"

func TestParseConfig_Valid(t *testing.T) {
	cfg, err := parseConfig(map[string]any{
		"bucket": "my-bucket",
		"prefix": "docs/",
	})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Bucket != "my-bucket" || cfg.Prefix != "docs/" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestParseConfig_MissingBucket(t *testing.T) {
	if _, err := parseConfig(map[string]any{}); err == nil {
		t.Error("expected error for missing bucket")
	}
}
