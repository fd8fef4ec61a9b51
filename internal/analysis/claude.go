package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultClaudeModel = "claude-sonnet-4-5"

// ClaudeOptions configure the Anthropic completer.
type ClaudeOptions struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// ClaudeCompleter calls the Anthropic Messages API.
type ClaudeCompleter struct {
	client anthropic.Client
	opts   ClaudeOptions
}

// NewClaudeCompleter returns ErrNotConfigured without an API key.
func NewClaudeCompleter(opts ClaudeOptions) (*ClaudeCompleter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: claude api key missing", ErrNotConfigured)
	}
	if opts.Model == "" {
		opts.Model = defaultClaudeModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &ClaudeCompleter{
		client: anthropic.NewClient(option.WithAPIKey(opts.APIKey)),
		opts:   opts,
	}, nil
}

// Complete sends one system+user exchange.
func (c *ClaudeCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.opts.Model),
		MaxTokens: int64(c.opts.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.opts.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(c.opts.Temperature))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude api call: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("claude returned no text")
	}
	return out.String(), nil
}

var _ Completer = (*ClaudeCompleter)(nil)
