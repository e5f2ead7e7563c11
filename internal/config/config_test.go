package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: groq
  max_tokens: 2048
  temperature: 0.3
  retry_max: 3
  groq:
    model: llama-3.1-8b-instant
embedding:
  provider: ollama
  model: nomic-embed-text
qdrant:
  host: qdrant.internal
  port: 6334
retrieval:
  top_k: 7
  context_byte_budget: 4096
workflow:
  ttl_seconds: 1800
  cap: 5000
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE", "LLM_RETRY_MAX",
		"GROQ_MODEL",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"QDRANT_HOST", "QDRANT_PORT",
		"RETRIEVAL_TOP_K", "CONTEXT_BYTE_BUDGET",
		"WORKFLOW_TTL_SECONDS", "WORKFLOW_CAP",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":       "groq",
		"MODEL_MAX_TOKENS":     "2048",
		"MODEL_TEMPERATURE":    "0.3",
		"LLM_RETRY_MAX":        "3",
		"GROQ_MODEL":           "llama-3.1-8b-instant",
		"EMBEDDING_PROVIDER":   "ollama",
		"EMBEDDING_MODEL":      "nomic-embed-text",
		"QDRANT_HOST":          "qdrant.internal",
		"QDRANT_PORT":          "6334",
		"RETRIEVAL_TOP_K":      "7",
		"CONTEXT_BYTE_BUDGET":  "4096",
		"WORKFLOW_TTL_SECONDS": "1800",
		"WORKFLOW_CAP":         "5000",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "text",
	}
	for key, want := range checks {
		if got := os.Getenv(key); got != want {
			t.Errorf("%s: got %q, want %q", key, got, want)
		}
	}
}

func TestLoad_EnvAlwaysWins(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: perplexity
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MODEL_PROVIDER", "ollama")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := os.Getenv("MODEL_PROVIDER"); got != "ollama" {
		t.Errorf("env var overwritten by YAML: %q", got)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte("model: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Error("expected parse error")
	}
}
