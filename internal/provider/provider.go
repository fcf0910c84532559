package provider

import (
	"context"
	"strings"

	"github.com/crownking/assistant/internal/config"
)

// LLMProvider answers a query against the catalog context it was built with.
type LLMProvider interface {
	Generate(ctx context.Context, query string) (string, error)
	Name() string
}

// Factory builds the provider selected by cfg around a loaded context.
type Factory func(cfg config.LLMConfig, context string) (LLMProvider, error)

// Kind is the backend selector read from LLM_TYPE.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindGroq   Kind = "groq"
	KindGemini Kind = "gemini"
)

// ParseKind maps a configured value to a Kind. Empty and "default" select groq.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "openai":
		return KindOpenAI, nil
	case "groq", "default", "":
		return KindGroq, nil
	case "gemini":
		return KindGemini, nil
	}
	return "", &ConfigError{Kind: value, Reason: "unrecognized backend kind (want openai, groq or gemini)"}
}

// New is the default Factory.
func New(cfg config.LLMConfig, context string) (LLMProvider, error) {
	kind, err := ParseKind(cfg.Type)
	if err != nil {
		return nil, err
	}

	opts := OptionsFromConfig(cfg)
	switch kind {
	case KindOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, &ConfigError{Kind: string(kind), Reason: "OPENAI_API_KEY is not set"}
		}
		return NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAIAPIKey, context, opts), nil
	case KindGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, &ConfigError{Kind: string(kind), Reason: "GEMINI_API_KEY is not set"}
		}
		return NewGeminiProvider(cfg.GeminiBaseURL, cfg.GeminiModel, cfg.GeminiAPIKey, context, opts), nil
	default:
		if cfg.GroqAPIKey == "" {
			return nil, &ConfigError{Kind: string(kind), Reason: "GROQ_API_KEY is not set"}
		}
		return NewGroqProvider(cfg.GroqBaseURL, cfg.GroqModel, cfg.GroqAPIKey, context, opts), nil
	}
}
