// Package llm provides the completion-provider boundary: a small
// request/response interface over chat-style language models, an
// OpenAI-compatible implementation, and the model pricing table.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role/content entry of a conversation.
type Message struct {
	Role    string
	Content string
}

// Request is a single completion request. Timeout bounds the provider
// call; zero means the caller's context deadline applies unchanged.
type Request struct {
	Model    string
	Messages []Message
	Timeout  time.Duration
}

// Usage reports token consumption for one completion call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the provider's answer to a Request.
type Response struct {
	Content string
	Usage   Usage
}

// CompletionProvider is the external model boundary. Implementations are
// stateless request/response clients.
type CompletionProvider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderError wraps a failed provider call with a coarse category used
// by usage accounting.
type ProviderError struct {
	Category string // "timeout", "rate_limit", "provider"
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %v", e.Category, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrMissingAPIKey indicates the provider credential is absent. Fatal:
// never retried.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

// OpenAIProvider implements CompletionProvider over the OpenAI-compatible
// chat completions API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a provider from the OPENAI_API_KEY environment
// variable. An optional base URL supports OpenAI-compatible local servers.
func NewOpenAIProvider() (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}, nil
}

// Complete sends the conversation to the chat completions endpoint and
// returns the generated text plus token usage.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	})
	if err != nil {
		return nil, &ProviderError{Category: classifyError(err), Err: err}
	}

	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Category: "provider", Err: fmt.Errorf("empty choices in response")}
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// classifyError maps a transport failure to a usage-accounting category.
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return "rate_limit"
	}
	return "provider"
}
