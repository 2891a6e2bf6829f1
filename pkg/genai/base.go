// Package genai provides interfaces and utilities for generative model providers.
//
// It defines the Service interface that all provider implementations must satisfy,
// covering text generation, tool-assisted generation, and embedding generation.
package genai

import (
	"context"
	"errors"
)

// Message roles used throughout the core. Providers translate these to
// their own wire roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Predefined errors for generative service failures.
var (
	// ErrRateLimited indicates the provider rejected the call due to rate limiting.
	// Calls failing with this error are eligible for retry (see WithRetry).
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrEmptyResponse indicates the provider returned no usable output.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// Message represents a single message in a conversation history.
type Message struct {
	// Role is the message role: RoleUser or RoleModel.
	Role string `json:"role"`

	// Content is the message content text.
	Content string `json:"content"`
}

// ToolDeclaration describes a callable tool offered to the model.
//
// Parameters is a JSON-schema-shaped object describing the tool's
// arguments; providers pass it through verbatim.
type ToolDeclaration struct {
	// Name is the tool name the model uses to call it.
	Name string `json:"name"`

	// Description tells the model what the tool does.
	Description string `json:"description"`

	// Parameters is the JSON-schema-shaped argument declaration.
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolCall is a structured function call produced by the model.
type ToolCall struct {
	// Name is the name of the tool the model chose.
	Name string `json:"name"`

	// Args contains the decoded call arguments.
	Args map[string]interface{} `json:"args"`
}

// Response is the result of a tool-assisted generation call.
//
// Exactly one of Text or ToolCall is meaningful: when the model calls a
// tool, ToolCall is non-nil and Text carries any accompanying rationale.
type Response struct {
	// Text is the model's text output.
	Text string `json:"text,omitempty"`

	// ToolCall is the structured call, nil when the model answered in text.
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// Service defines the interface for generative model providers.
//
// All provider implementations (OpenAI, Anthropic) must implement this
// interface. A Service instance is an explicitly constructed, passed-in
// dependency so tests can substitute a fake.
type Service interface {
	// GenerateText generates a text reply from a conversation history and
	// a system instruction.
	GenerateText(ctx context.Context, history []Message, system string, opts ...GenerateOption) (string, error)

	// GenerateWithTools generates a reply with the given tool declarations
	// available. The model either answers in text or calls one tool.
	GenerateWithTools(ctx context.Context, history []Message, system string, tools []ToolDeclaration, opts ...GenerateOption) (*Response, error)

	// GenerateEmbedding converts text into a fixed-dimensionality vector.
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)

	// Close closes the service and releases resources.
	Close() error
}

// Embedder is the embedding-only subset of Service, satisfied by
// providers and by the deterministic HashEmbedder placeholder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// GenerateOptions contains options for generation calls.
type GenerateOptions struct {
	// Temperature controls randomness (0.0-2.0). Higher = more random.
	Temperature float64

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int
}

// GenerateOption is a function type for configuring generation options.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the temperature for generation.
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens sets the maximum number of tokens in the response.
func WithMaxTokens(max int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = max
	}
}

// ApplyGenerateOptions applies option functions over the defaults
// (Temperature=0.7, MaxTokens=2048).
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   2048,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
