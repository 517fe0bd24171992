package config

import "testing"

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestParseAnyCSV(t *testing.T) {
	raw := []any{"x", " ", "y"}
	got := parseAnyCSV(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestApplyConfigMapSLAKeys(t *testing.T) {
	cfg := Config{SLACacheTTLSec: 300, SLAWarningHours: 24}
	var problems []Problem
	applyConfigMap(&cfg, map[string]any{
		"SLA_CACHE_TTL_SECONDS":    float64(120),
		"SLA_WARNING_WINDOW_HOURS": "48",
		"SLA_DEFAULT_HOURS":        float64(72),
	}, &problems)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %#v", problems)
	}
	if cfg.SLACacheTTLSec != 120 || cfg.SLAWarningHours != 48 || cfg.SLADefaultHours != 72 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestApplyConfigMapRejectsBadInt(t *testing.T) {
	cfg := Config{}
	var problems []Problem
	applyConfigMap(&cfg, map[string]any{"ESCALATION_BATCH_SIZE": "not-a-number"}, &problems)
	if len(problems) != 1 {
		t.Fatalf("expected 1 problem, got %#v", problems)
	}
}
