package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Default models and endpoints per provider.
const (
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultOllamaModel   = "llama3"
	DefaultOllamaBaseURL = "http://localhost:11434/v1"
	DefaultSystemPrompt  = "You are a careful reasoning assistant. Follow the requested output format exactly."
)

// OpenAIOracle talks to any OpenAI-compatible chat completions endpoint.
type OpenAIOracle struct {
	client   *openai.Client
	provider string
	model    string
	system   string
}

// NewOpenAI creates an OpenAI-compatible oracle.
func NewOpenAI(cfg Config) (*OpenAIOracle, error) {
	provider := strings.ToLower(cfg.Provider)
	model := cfg.Model
	baseURL := cfg.BaseURL
	key := cfg.APIKey
	switch provider {
	case ProviderOpenAI:
		if model == "" {
			model = DefaultOpenAIModel
		}
	case ProviderOllama:
		if model == "" {
			model = DefaultOllamaModel
		}
		if baseURL == "" {
			baseURL = DefaultOllamaBaseURL
		}
		if key == "" {
			key = "ollama"
		}
	case ProviderCustom:
		if baseURL == "" {
			return nil, fmt.Errorf("custom provider requires a base URL")
		}
		if model == "" {
			return nil, fmt.Errorf("custom provider requires a model")
		}
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}

	oc := openai.DefaultConfig(key)
	if baseURL != "" {
		oc.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &OpenAIOracle{
		client:   openai.NewClientWithConfig(oc),
		provider: provider,
		model:    model,
		system:   system,
	}, nil
}

func (o *OpenAIOracle) Provider() string { return o.provider }
func (o *OpenAIOracle) Model() string    { return o.model }

// Generate implements Oracle.
func (o *OpenAIOracle) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(fmt.Errorf("%s chat completion: %w", o.provider, err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", o.provider)
	}
	return resp.Choices[0].Message.Content, nil
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}
