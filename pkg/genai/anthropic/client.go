// Package anthropic provides the Anthropic implementation of the genai.Service interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mindweave/mindcore-go/pkg/genai"
)

// Client is an Anthropic generative service client.
// It implements the genai.Service interface over the Messages API.
//
// Anthropic exposes no embeddings endpoint, so GenerateEmbedding
// delegates to the deterministic genai.HashEmbedder placeholder.
type Client struct {
	client   anthropic.Client
	model    string
	embedder *genai.HashEmbedder
}

// Config is the configuration for the Anthropic client.
// APIKey: Anthropic API key (required)
// Model: Model name, defaults to "claude-sonnet-4-20250514"
// BaseURL: API base URL, defaults to the Anthropic official address
// EmbeddingDims: Dimension of the placeholder hash embeddings, defaults to 768
type Config struct {
	APIKey        string
	Model         string
	BaseURL       string
	EmbeddingDims int
}

// NewClient creates a new Anthropic generative service client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return &Client{
		client:   anthropic.NewClient(opts...),
		model:    model,
		embedder: genai.NewHashEmbedder(cfg.EmbeddingDims),
	}, nil
}

// GenerateText generates a text reply from a conversation history.
func (c *Client) GenerateText(ctx context.Context, history []genai.Message, system string, opts ...genai.GenerateOption) (string, error) {
	resp, err := c.complete(ctx, history, system, nil, opts)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// GenerateWithTools generates a reply with tool declarations available.
func (c *Client) GenerateWithTools(ctx context.Context, history []genai.Message, system string, tools []genai.ToolDeclaration, opts ...genai.GenerateOption) (*genai.Response, error) {
	return c.complete(ctx, history, system, tools, opts)
}

func (c *Client) complete(ctx context.Context, history []genai.Message, system string, tools []genai.ToolDeclaration, opts []genai.GenerateOption) (*genai.Response, error) {
	options := genai.ApplyGenerateOptions(opts)

	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == genai.RoleModel {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(options.MaxTokens),
		Temperature: anthropic.Float(options.Temperature),
		Messages:    messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	for _, tool := range tools {
		properties := tool.Parameters["properties"]
		if properties == nil {
			properties = tool.Parameters
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       "object",
					Properties: properties,
				},
			},
		})
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}

	out := &genai.Response{}
	for _, content := range resp.Content {
		switch block := content.AsAny().(type) {
		case anthropic.TextBlock:
			out.Text += block.Text
		case anthropic.ToolUseBlock:
			if out.ToolCall != nil {
				continue
			}
			args := map[string]interface{}{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("decode tool call input: %w", err)
				}
			}
			out.ToolCall = &genai.ToolCall{
				Name: block.Name,
				Args: args,
			}
		}
	}

	if out.Text == "" && out.ToolCall == nil {
		return nil, genai.ErrEmptyResponse
	}

	return out, nil
}

// GenerateEmbedding returns the deterministic hash projection of text.
// See genai.HashEmbedder for why these vectors are non-semantic.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	return c.embedder.Embed(ctx, text)
}

// Dimensions returns the placeholder embedding dimensions.
func (c *Client) Dimensions() int {
	return c.embedder.Dimensions()
}

// Close closes the client connection.
// The Anthropic SDK client does not require explicit closing; this method
// is retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}

// wrapError maps provider rate-limit responses onto genai.ErrRateLimited
// so the retry policy can recognize them.
func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", genai.ErrRateLimited, err)
	}
	return err
}
