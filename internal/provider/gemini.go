package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const defaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider sends one prompt to the generateContent endpoint. No output cap is set.
type GeminiProvider struct {
	BaseURL string
	Model   string
	APIKey  string
	Context string

	caller *caller
}

func NewGeminiProvider(baseURL, model, apiKey, context string, opts Options) *GeminiProvider {
	if baseURL == "" {
		baseURL = defaultGeminiURL
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		APIKey:  apiKey,
		Context: context,
		caller:  newCaller(string(KindGemini), opts),
	}
}

func (p *GeminiProvider) Name() string {
	return string(KindGemini)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (p *GeminiProvider) Generate(ctx context.Context, query string) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: RenderPrompt(KindGemini, p.Context, query).String()}},
		}},
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", p.BaseURL, p.Model)
	headers := map[string]string{"x-goog-api-key": p.APIKey}

	var result geminiResponse
	if err := p.caller.postJSON(ctx, url, headers, payload, &result); err != nil {
		return "", generationError(p.Name(), err)
	}

	if len(result.Candidates) == 0 {
		if reason := result.PromptFeedback.BlockReason; reason != "" {
			return "", generationError(p.Name(), fmt.Errorf("prompt blocked: %s", reason))
		}
		return "", generationError(p.Name(), errors.New("no candidates returned"))
	}

	var b strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String()), nil
}
