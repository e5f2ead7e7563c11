package provider

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
)

// ConfigFromEnv resolves provider configuration from environment variables.
// MODEL_PROVIDER selects the backend; each provider uses its own native
// credential env vars.
//
// Environment variables:
//
//	MODEL_PROVIDER = groq | perplexity | openai | azure | bedrock | gemini | ollama (default: groq)
//
//	Groq:       GROQ_API_KEY, GROQ_MODEL (default: llama-3.1-8b-instant)
//	Perplexity: PERPLEXITY_API_KEY, PERPLEXITY_MODEL (default: sonar)
//	OpenAI:     OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o-mini)
//	Azure:      AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	            AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Bedrock:    AWS credential chain, AWS_REGION (default: us-east-1), BEDROCK_MODEL_ID
//	Gemini:     GOOGLE_API_KEY, GEMINI_MODEL (default: gemini-1.5-flash)
//	Ollama:     OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3)
//
//	Shared: MODEL_NAME (overrides the per-provider model), MODEL_MAX_TOKENS
//	(default: 2048), MODEL_TEMPERATURE (default: 0.2)
func ConfigFromEnv() *Config {
	backend := Backend(getEnvOrDefault("MODEL_PROVIDER", string(BackendGroq)))

	cfg := &Config{
		Backend:     backend,
		MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", 2048),
		Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0.2),
	}

	switch backend {
	case BackendGroq:
		cfg.APIKey = os.Getenv("GROQ_API_KEY")
		cfg.Model = getEnvOrDefault("GROQ_MODEL", defaultGroqModel)
	case BackendPerplexity:
		cfg.APIKey = os.Getenv("PERPLEXITY_API_KEY")
		cfg.Model = getEnvOrDefault("PERPLEXITY_MODEL", defaultPerplexityModel)
	case BackendOpenAI:
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		cfg.Model = getEnvOrDefault("OPENAI_MODEL", defaultOpenAIModel)
	case BackendAzure:
		cfg.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
		cfg.BaseURL = os.Getenv("AZURE_OPENAI_ENDPOINT")
		cfg.AzureDeployment = os.Getenv("AZURE_OPENAI_DEPLOYMENT")
		cfg.AzureAPIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01")
	case BackendBedrock:
		cfg.AWSRegion = getEnvOrDefault("AWS_REGION", "us-east-1")
		cfg.Model = os.Getenv("BEDROCK_MODEL_ID")
	case BackendGemini:
		cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
		cfg.Model = getEnvOrDefault("GEMINI_MODEL", defaultGeminiModel)
	case BackendOllama:
		cfg.BaseURL = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		cfg.Model = getEnvOrDefault("OLLAMA_MODEL", defaultOllamaModel)
	}

	// MODEL_NAME is the provider-independent override used by per-request
	// model hints.
	if m := os.Getenv("MODEL_NAME"); m != "" {
		cfg.Model = m
	}

	return cfg
}

// New constructs a ChatModel from an explicit Config, delegating to the
// appropriate backend constructor. It validates the config first so callers
// get a clear error at startup rather than on the first request.
func New(ctx context.Context, cfg *Config) (model.ChatModel, error) { //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendGroq:
		return newGroq(ctx, cfg)
	case BackendPerplexity:
		return newPerplexity(ctx, cfg)
	case BackendOpenAI:
		return newOpenAI(ctx, cfg)
	case BackendAzure:
		return newAzure(ctx, cfg)
	case BackendBedrock:
		return newBedrock(ctx, cfg)
	case BackendGemini:
		return newGemini(ctx, cfg)
	case BackendOllama:
		return newOllama(ctx, cfg)
	default:
		return nil, fmt.Errorf("provider: unknown backend %q", cfg.Backend)
	}
}

// NewFromEnv is the convenience constructor combining ConfigFromEnv and New.
func NewFromEnv(ctx context.Context) (model.ChatModel, error) { //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
	return New(ctx, ConfigFromEnv())
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
