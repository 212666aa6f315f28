package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("STRANDPIPE_PIPELINE_WORKERS", "8")

	path := filepath.Join(t.TempDir(), "strandpipe.yaml")
	content := []byte(`
pipeline:
  capacity: 64
  workers: 2
  policy: overwrite_oldest
  shutdown: discard
codec:
  digest_length: 32
  checksum_width: 4
store:
  path: /var/lib/strandpipe/credentials.db
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Pipeline.Workers != 8 {
		t.Fatalf("expected env override for workers, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.Capacity != 64 || cfg.Pipeline.Policy != "overwrite_oldest" {
		t.Fatalf("unexpected pipeline config: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.Shutdown != "discard" {
		t.Fatalf("unexpected shutdown mode: %q", cfg.Pipeline.Shutdown)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strandpipe.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  capacity: 16\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.Policy != "backpressure" || cfg.Pipeline.Shutdown != "drain" {
		t.Fatalf("defaults not applied: %+v", cfg.Pipeline)
	}
	if cfg.Codec.DigestLength != 32 || cfg.Codec.ChecksumWidth != 4 {
		t.Fatalf("codec defaults not applied: %+v", cfg.Codec)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log default not applied: %q", cfg.Log.Level)
	}
}

func TestValidateRejectsNonPositiveCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strandpipe.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  capacity: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for capacity 0")
	}
}

func TestValidateRejectsUnknownPolicy(t *testing.T) {
	cfg := Config{
		Pipeline: PipelineConfig{Capacity: 8, Workers: 1, Policy: "spill_to_disk", Shutdown: "drain"},
		Codec:    CodecConfig{DigestLength: 32, ChecksumWidth: 4},
		Store:    StoreConfig{Path: "x.db"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown policy")
	}
}
