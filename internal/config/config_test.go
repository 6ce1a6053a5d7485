package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dataset.Name != "scifact" || cfg.Dataset.Split != "test" {
		t.Fatalf("dataset = %+v", cfg.Dataset)
	}
	if got := cfg.Dataset.Path(); got != filepath.Join("datasets", "scifact") {
		t.Fatalf("path = %s", got)
	}
	if cfg.Qdrant.Addr != "localhost:6334" || cfg.Qdrant.Collection != "document_v4" {
		t.Fatalf("qdrant = %+v", cfg.Qdrant)
	}
	if cfg.Qdrant.Settle() != time.Second {
		t.Fatalf("settle = %s", cfg.Qdrant.Settle())
	}
	if cfg.Embedding.Endpoint != "http://localhost:8081/vectors" || cfg.Embedding.Key() != "vector" {
		t.Fatalf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Embedding.Timeout() != 60*time.Second {
		t.Fatalf("timeout = %s", cfg.Embedding.Timeout())
	}
	if got := cfg.Eval.Cutoffs; len(got) != 5 || got[4] != 100 {
		t.Fatalf("cutoffs = %v", got)
	}
	if cfg.Ingest.Workers != 1 || cfg.Ingest.FlushSize != 64 {
		t.Fatalf("ingest = %+v", cfg.Ingest)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
dataset:
  name: nfcorpus
  split: dev
embedding:
  vector_key: embedding
  timeout_sec: 5
  dims: 1024
ingest:
  workers: 4
  breaker_threshold: 10
eval:
  cutoffs: [1, 10]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dataset.Name != "nfcorpus" || cfg.Dataset.Split != "dev" {
		t.Fatalf("dataset = %+v", cfg.Dataset)
	}
	if cfg.Embedding.Key() != "embedding" || cfg.Embedding.Dims != 1024 {
		t.Fatalf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Embedding.Timeout() != 5*time.Second {
		t.Fatalf("timeout = %s", cfg.Embedding.Timeout())
	}
	if cfg.Ingest.Workers != 4 {
		t.Fatalf("workers = %d", cfg.Ingest.Workers)
	}
	// Threshold without cooldown picks up the default cooldown.
	if cfg.Ingest.BreakerCooldown() != 30*time.Second {
		t.Fatalf("cooldown = %s", cfg.Ingest.BreakerCooldown())
	}
	if len(cfg.Eval.Cutoffs) != 2 {
		t.Fatalf("cutoffs = %v", cfg.Eval.Cutoffs)
	}
}

// An explicitly empty vector key selects the bare-body response shape;
// only an omitted key falls back to "vector".
func TestLoadBareBodyVectorKey(t *testing.T) {
	path := writeConfig(t, `
embedding:
  vector_key: ""
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Key() != "" {
		t.Fatalf("key = %q, want bare body", cfg.Embedding.Key())
	}

	omitted := writeConfig(t, `
embedding:
  timeout_sec: 10
`)
	cfg, err = Load(omitted)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Key() != "vector" {
		t.Fatalf("key = %q, want default", cfg.Embedding.Key())
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("BENCH_QDRANT_ADDR", "qdrant.internal:6334")
	path := writeConfig(t, `
qdrant:
  addr: ${BENCH_QDRANT_ADDR}
nats:
  url: ${BENCH_NATS_URL:-nats://localhost:4222}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Qdrant.Addr != "qdrant.internal:6334" {
		t.Fatalf("addr = %s", cfg.Qdrant.Addr)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Fatalf("nats url = %s", cfg.NATS.URL)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
embedding:
  provider: cohere
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadRejectsOpenAIWithoutKey(t *testing.T) {
	path := writeConfig(t, `
embedding:
  provider: openai
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadRejectsBadCutoff(t *testing.T) {
	path := writeConfig(t, `
eval:
  cutoffs: [0]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestSlogLevel(t *testing.T) {
	if (LoggingConfig{Level: "debug"}).SlogLevel().String() != "DEBUG" {
		t.Fatal("debug")
	}
	if (LoggingConfig{}).SlogLevel().String() != "INFO" {
		t.Fatal("default")
	}
}
