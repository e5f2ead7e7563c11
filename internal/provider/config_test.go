package provider

import (
	"testing"
)

func TestValidate_HostedRequiresAPIKey(t *testing.T) {
	t.Parallel()

	for _, b := range []Backend{BackendGroq, BackendPerplexity, BackendOpenAI, BackendGemini} {
		cfg := &Config{Backend: b, Model: "m"}
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected error for missing API key", b)
		}
		cfg.APIKey = "k"
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s: unexpected error with API key set: %v", b, err)
		}
	}
}

func TestValidate_AzureRequiresEndpointAndDeployment(t *testing.T) {
	t.Parallel()

	cfg := &Config{Backend: BackendAzure, APIKey: "k"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing endpoint/deployment")
	}

	cfg.BaseURL = "https://res.openai.azure.com"
	cfg.AzureDeployment = "gpt-4o"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_OllamaNeedsNoCredentials(t *testing.T) {
	t.Parallel()

	cfg := &Config{Backend: BackendOllama, Model: "llama3"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := &Config{Backend: "chatgpt9000"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestConfigFromEnv_GroqDefaults(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "groq")
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("MODEL_NAME", "")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendGroq {
		t.Errorf("backend: got %q", cfg.Backend)
	}
	if cfg.Model != defaultGroqModel {
		t.Errorf("model: got %q, want %q", cfg.Model, defaultGroqModel)
	}
	if cfg.APIKey != "gsk-test" {
		t.Errorf("api key not picked up")
	}
}

func TestConfigFromEnv_ModelNameOverride(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "groq")
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("MODEL_NAME", "gemma2-9b-it")

	cfg := ConfigFromEnv()
	if cfg.Model != "gemma2-9b-it" {
		t.Errorf("MODEL_NAME override not applied: got %q", cfg.Model)
	}
}
