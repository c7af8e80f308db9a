package defesajusta

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ChunkSize != 800 || cfg.ChunkOverlap != 160 {
		t.Errorf("chunking defaults = %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.Embedding.Provider != "local" {
		t.Errorf("default provider = %q", cfg.Embedding.Provider)
	}
	if cfg.Confidence.Official.Min != 1.0 {
		t.Errorf("official confidence = %+v", cfg.Confidence.Official)
	}
	rng, ok := cfg.AmountRanges["estacionamento"]
	if !ok || rng.Min != 30 || rng.Max != 300 {
		t.Errorf("estacionamento range = %+v", rng)
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
db_path: /tmp/test-corpus.db
chunk_size: 400
embedding:
  provider: openai
  model: text-embedding-3-small
  dimension: 1536
amount_ranges:
  estacionamento:
    min: 25
    max: 500
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.DBPath != "/tmp/test-corpus.db" || cfg.ChunkSize != 400 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.Dimension != 1536 {
		t.Errorf("embedding overrides not applied: %+v", cfg.Embedding)
	}
	if cfg.AmountRanges["estacionamento"].Max != 500 {
		t.Errorf("amount range override not applied: %+v", cfg.AmountRanges)
	}
	// Untouched fields keep their defaults.
	if cfg.ChunkOverlap != 160 || cfg.TopK != 10 {
		t.Errorf("defaults lost on overlay: %+v", cfg)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestResolvePathsLocal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDir = "local"
	if got := cfg.resolveDBPath(); got != filepath.Join(".", "corpus.db") {
		t.Errorf("db path = %q", got)
	}
	cfg.IndexPath = "/data/custom.idx"
	if cfg.resolveIndexPath() != "/data/custom.idx" {
		t.Error("explicit index path not honored")
	}
}
