package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/directline-io/directline/pkg/protocol"
)

// AnthropicClassifier uses the Anthropic Messages API.
type AnthropicClassifier struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic classifier. SDK retries are disabled.
func NewAnthropic(apiKey string, opts ...Option) *AnthropicClassifier {
	o := options{model: string(anthropic.ModelClaude3_5HaikuLatest)}
	for _, opt := range opts {
		opt(&o)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}
	return &AnthropicClassifier{
		client: anthropic.NewClient(reqOpts...),
		model:  o.model,
	}
}

func (c *AnthropicClassifier) Name() string { return "anthropic" }

func (c *AnthropicClassifier) Classify(ctx context.Context, text string) (*protocol.Classification, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 256,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Initial Message: " + text)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classify: anthropic: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return decode(b.String())
}
