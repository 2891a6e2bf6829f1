// Package genaitest provides a scripted fake genai.Service for tests.
package genaitest

import (
	"context"
	"sync"

	"github.com/mindweave/mindcore-go/pkg/genai"
)

// Call records one generation call received by the fake.
type Call struct {
	History []genai.Message
	System  string
	Tools   []genai.ToolDeclaration
}

// Step is one scripted reply. If Err is non-nil it is returned instead
// of the response; a step with a non-nil Err can still be followed by
// further steps (retry testing).
type Step struct {
	Response *genai.Response
	Err      error
}

// Fake is a scripted genai.Service. Generation calls consume scripted
// steps in order; the last step repeats once the script is exhausted.
// Embeddings come from the deterministic hash embedder.
type Fake struct {
	mu       sync.Mutex
	steps    []Step
	next     int
	calls    []Call
	embedder *genai.HashEmbedder
}

// New creates a fake service with the given script.
func New(steps ...Step) *Fake {
	return &Fake{
		steps:    steps,
		embedder: genai.NewHashEmbedder(8),
	}
}

// Text is a convenience constructor for a plain-text step.
func Text(text string) Step {
	return Step{Response: &genai.Response{Text: text}}
}

// Tool is a convenience constructor for a tool-call step.
func Tool(name string, args map[string]interface{}, thought string) Step {
	return Step{Response: &genai.Response{
		Text:     thought,
		ToolCall: &genai.ToolCall{Name: name, Args: args},
	}}
}

// Fail is a convenience constructor for an error step.
func Fail(err error) Step {
	return Step{Err: err}
}

// Calls returns a copy of the generation calls received so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of generation calls received.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *Fake) GenerateText(_ context.Context, history []genai.Message, system string, _ ...genai.GenerateOption) (string, error) {
	resp, err := f.advance(history, system, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (f *Fake) GenerateWithTools(_ context.Context, history []genai.Message, system string, tools []genai.ToolDeclaration, _ ...genai.GenerateOption) (*genai.Response, error) {
	return f.advance(history, system, tools)
}

func (f *Fake) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	return f.embedder.Embed(ctx, text)
}

func (f *Fake) Close() error {
	return nil
}

func (f *Fake) advance(history []genai.Message, system string, tools []genai.ToolDeclaration) (*genai.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{History: history, System: system, Tools: tools})

	if len(f.steps) == 0 {
		return &genai.Response{Text: "ok"}, nil
	}

	step := f.steps[f.next]
	if f.next < len(f.steps)-1 {
		f.next++
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}
