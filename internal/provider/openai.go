package provider

import (
	"context"
	"errors"
	"strings"
)

const (
	defaultOpenAIURL = "https://api.openai.com/v1/chat/completions"
	defaultGroqURL   = "https://api.groq.com/openai/v1/chat/completions"

	chatTemperature = 0.7
	chatMaxTokens   = 150
)

// OpenAIProvider talks to an OpenAI-compatible chat-completions endpoint.
// Both the openai and groq backends use it; they differ in endpoint, model and prompt template.
type OpenAIProvider struct {
	BaseURL string
	Model   string
	APIKey  string
	Context string

	kind   Kind
	caller *caller
}

func NewOpenAIProvider(baseURL, model, apiKey, context string, opts Options) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return newChatProvider(KindOpenAI, baseURL, model, apiKey, context, opts)
}

func NewGroqProvider(baseURL, model, apiKey, context string, opts Options) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultGroqURL
	}
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return newChatProvider(KindGroq, baseURL, model, apiKey, context, opts)
}

func newChatProvider(kind Kind, baseURL, model, apiKey, context string, opts Options) *OpenAIProvider {
	return &OpenAIProvider{
		BaseURL: baseURL,
		Model:   model,
		APIKey:  apiKey,
		Context: context,
		kind:    kind,
		caller:  newCaller(string(kind), opts),
	}
}

func (p *OpenAIProvider) Name() string {
	return string(p.kind)
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, query string) (string, error) {
	payload := chatRequest{
		Model:       p.Model,
		Messages:    RenderPrompt(p.kind, p.Context, query).Messages(),
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	}

	headers := map[string]string{}
	if p.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.APIKey
	}

	var result chatResponse
	if err := p.caller.postJSON(ctx, p.BaseURL, headers, payload, &result); err != nil {
		return "", generationError(p.Name(), err)
	}

	if len(result.Choices) == 0 {
		return "", generationError(p.Name(), errors.New("no choices returned"))
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}
