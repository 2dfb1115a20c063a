// Package provider selects and constructs the generation-model backend at
// runtime. Supported backends: Ollama, OpenAI, Azure OpenAI, Google Gemini.
package provider

import "context"

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// HealthCheckConfig is implemented by backends that expose a zero-cost
// reachability probe. Readiness checks prefer it over a token-burning
// generation call.
type HealthCheckConfig interface {
	HealthCheck(ctx context.Context) error
}
