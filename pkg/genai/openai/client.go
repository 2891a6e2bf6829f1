// Package openai provides the OpenAI implementation of the genai.Service interface.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mindweave/mindcore-go/pkg/genai"
)

// Client is an OpenAI generative service client.
// It implements the genai.Service interface using the chat completions
// and embeddings APIs.
type Client struct {
	client     *openai.Client
	model      string
	embedModel openai.EmbeddingModel
	dimensions int
}

// Config is the configuration for the OpenAI client.
// APIKey: OpenAI API key (required)
// Model: Chat model name, defaults to "gpt-4o-mini"
// BaseURL: API base URL, defaults to the OpenAI official address
// Dimensions: Embedding dimensions, defaults to 1536 (AdaEmbeddingV2)
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// NewClient creates a new OpenAI generative service client.
//
// Args:
//   - cfg: OpenAI configuration containing APIKey, Model, and BaseURL
//
// Returns:
//   - *Client: OpenAI client instance
//   - error: Returns an error if the configuration is invalid
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		embedModel: openai.AdaEmbeddingV2,
		dimensions: dimensions,
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
// When the model calls a tool, the first call is decoded into the
// response's ToolCall.
func (c *Client) GenerateWithTools(ctx context.Context, history []genai.Message, system string, tools []genai.ToolDeclaration, opts ...genai.GenerateOption) (*genai.Response, error) {
	return c.complete(ctx, history, system, tools, opts)
}

func (c *Client) complete(ctx context.Context, history []genai.Message, system string, tools []genai.ToolDeclaration, opts []genai.GenerateOption) (*genai.Response, error) {
	options := genai.ApplyGenerateOptions(opts)

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Role == genai.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
	}

	for _, tool := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, wrapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, genai.ErrEmptyResponse
	}

	choice := resp.Choices[0].Message
	out := &genai.Response{Text: choice.Content}

	if len(choice.ToolCalls) > 0 {
		call := choice.ToolCalls[0]
		args := map[string]interface{}{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("decode tool call arguments: %w", err)
			}
		}
		out.ToolCall = &genai.ToolCall{
			Name: call.Function.Name,
			Args: args,
		}
	}

	return out, nil
}

// GenerateEmbedding converts a single text to a vector.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.embedModel,
	})
	if err != nil {
		return nil, wrapError(err)
	}

	if len(resp.Data) == 0 {
		return nil, genai.ErrEmptyResponse
	}

	// Convert float32 to float64
	embedding32 := resp.Data[0].Embedding
	embedding64 := make([]float64, len(embedding32))
	for i, v := range embedding32 {
		embedding64[i] = float64(v)
	}

	return embedding64, nil
}

// Dimensions returns the embedding vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close closes the client connection.
// The OpenAI SDK client does not require explicit closing; this method is
// retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}

// wrapError maps provider rate-limit responses onto genai.ErrRateLimited
// so the retry policy can recognize them.
func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", genai.ErrRateLimited, err)
	}
	return err
}
