// Package provider defines the Backend enum and factory for selecting and
// constructing LLM chat-model implementations at runtime.
// Supported backends: Groq, Perplexity, OpenAI, Azure OpenAI, Google Gemini,
// AWS Bedrock, Ollama (local).
package provider

import (
	"fmt"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendGroq selects the Groq cloud API (OpenAI-compatible).
	BackendGroq Backend = "groq"
	// BackendPerplexity selects the Perplexity API (OpenAI-compatible).
	BackendPerplexity Backend = "perplexity"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
)

// Default model names per backend. Hosted defaults follow the models the
// assistant was tuned against; override with MODEL_NAME or per-provider vars.
const (
	defaultGroqModel       = "llama-3.1-8b-instant"
	defaultPerplexityModel = "sonar"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultGeminiModel     = "gemini-1.5-flash"
	defaultOllamaModel     = "llama3"
)

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Model is the model name or deployment ID (e.g. "llama-3.1-8b-instant").
	Model string

	// BaseURL overrides the default API endpoint. Optional: Ollama falls
	// back to http://localhost:11434, Groq and Perplexity to their hosted
	// endpoints.
	BaseURL string

	// APIKey is the authentication credential for the selected provider.
	// For Bedrock this field is unused; AWS credentials are resolved via the SDK chain.
	APIKey string

	// AzureDeployment is the Azure OpenAI deployment name (Azure only).
	AzureDeployment string

	// AzureAPIVersion is the Azure OpenAI REST API version (Azure only).
	AzureAPIVersion string

	// AWSRegion is the AWS region for Bedrock (Bedrock only).
	AWSRegion string

	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Validate checks that the config carries everything its backend needs, so
// callers get a clear error at startup rather than on the first request.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGroq, BackendPerplexity, BackendOpenAI, BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("provider: %s backend requires an API key", c.Backend)
		}
	case BackendAzure:
		if c.APIKey == "" || c.BaseURL == "" || c.AzureDeployment == "" {
			return fmt.Errorf("provider: azure backend requires API key, endpoint, and deployment")
		}
	case BackendBedrock:
		if c.Model == "" {
			return fmt.Errorf("provider: bedrock backend requires a model ID")
		}
	case BackendOllama:
		// Local — no credentials needed.
	default:
		return fmt.Errorf("provider: unknown backend %q — valid values: groq, perplexity, openai, azure, bedrock, gemini, ollama", c.Backend)
	}
	return nil
}
