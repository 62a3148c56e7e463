package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPassesValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestValidateRejectsEmptyCrawlRoot(t *testing.T) {
	cfg := Default()
	cfg.CrawlRoot = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty crawl root")
	}
}

func TestValidateRejectsMetricsListenCollision(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = cfg.Server.Listen
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for colliding listen addresses")
	}
}

func TestValidateRejectsNonPositiveChunkSize(t *testing.T) {
	cfg := Default()
	cfg.Artifact.DefaultChunkSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for non-positive chunk size")
	}
}

func TestValidateRejectsUnknownRoutingPolicy(t *testing.T) {
	cfg := Default()
	cfg.Routing.Policy = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown routing policy")
	}
}

func TestLoadAppliesYAMLOnTopOfDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.yaml")
	body := "crawl_root: /data/crawl\nrouting:\n  policy: flat\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CrawlRoot != "/data/crawl" {
		t.Fatalf("expected overridden crawl root, got %q", cfg.CrawlRoot)
	}
	if cfg.Routing.Policy != "flat" {
		t.Fatalf("expected overridden routing policy, got %q", cfg.Routing.Policy)
	}
	if cfg.Server.Listen != Default().Server.Listen {
		t.Fatalf("expected untouched fields to keep their defaults, got %q", cfg.Server.Listen)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.yaml")
	body := "crawl_root: /data/crawl\nbogus_field: true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown top-level field")
	}
}

func TestLoadRejectsInvalidResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.yaml")
	body := "crawl_root: \"\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for empty crawl root")
	}
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
