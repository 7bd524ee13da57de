package classify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/directline-io/directline/pkg/protocol"
)

// OpenAIClassifier works against any OpenAI-compatible chat completions API.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

// Option configures a classifier backend.
type Option func(*options)

type options struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// WithBaseURL sets a custom API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithModel sets the model.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// NewOpenAI creates an OpenAI-compatible classifier.
func NewOpenAI(apiKey string, opts ...Option) *OpenAIClassifier {
	o := options{model: openai.GPT4oMini}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}
	return &OpenAIClassifier{
		client: openai.NewClientWithConfig(cfg),
		model:  o.model,
	}
}

func (c *OpenAIClassifier) Name() string { return "openai" }

func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (*protocol.Classification, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Initial Message: " + text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens: 256,
	})
	if err != nil {
		return nil, fmt.Errorf("classify: openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("classify: openai: no choices in response")
	}
	return decode(resp.Choices[0].Message.Content)
}
