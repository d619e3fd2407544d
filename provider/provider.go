package provider

import (
	"context"
	"errors"

	"github.com/deskpilot/deskpilot/config"
	openai_provider "github.com/deskpilot/deskpilot/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy.
// Complete is a plain prompt-in/text-out call; structured outputs and retries
// on transient failures are the caller's concern.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates a new LLM client based on the provided configuration.
// Providers are keyed by name in the config; "openai" is the default.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	pc, ok := cfg.Providers["openai"]
	if !ok {
		return nil, errors.New("llm provider not configured: openai")
	}
	switch Client(pc.Type) {
	case OpenAI:
		if pc.APIKey == "" {
			return nil, errors.New("openai api key not set")
		}
		return openai_provider.NewClient(pc, cfg.Routing), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
