package agent

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/mindweave/mindcore-go/pkg/genai"
)

// ToolExecutor runs a named tool with structured arguments and returns
// its observation. The engine owns no tool implementations; tools are
// registered externally.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// ToolFunc is the implementation of one tool.
type ToolFunc func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool couples a declaration with its implementation.
type Tool struct {
	// Name is the identifier the model calls the tool by.
	Name string

	// Description tells the model what the tool does.
	Description string

	// Parameters is the JSON-schema-shaped argument declaration.
	Parameters map[string]interface{}

	// Fn executes the tool.
	Fn ToolFunc
}

// Registry holds the available tools. It satisfies ToolExecutor and
// produces the declaration list for prompting.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering an existing name replaces it.
func (r *Registry) Register(tool Tool) {
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

// Declarations returns the registered tools' declarations in
// registration order.
func (r *Registry) Declarations() []genai.ToolDeclaration {
	return lo.Map(r.order, func(name string, _ int) genai.ToolDeclaration {
		tool := r.tools[name]
		return genai.ToolDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		}
	})
}

// Execute runs the named tool.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return tool.Fn(ctx, args)
}
