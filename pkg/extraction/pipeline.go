// Package extraction implements the memory extraction pipeline: the
// write path that derives entities and knowledge snippets from newly
// produced conversation content and persists them into the structured
// and semantic tiers.
//
// The pipeline runs after the turn is persisted, asynchronously
// relative to the user-visible reply. Every failure is caught, recorded
// in the audit trail and logged; nothing is ever re-raised to the
// caller.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mindweave/mindcore-go/pkg/audit"
	"github.com/mindweave/mindcore-go/pkg/genai"
	"github.com/mindweave/mindcore-go/pkg/tier"
)

// Input describes one extraction request.
type Input struct {
	// Content is the newly produced text to extract from.
	Content string

	// ConversationID and TurnID identify the owning records.
	ConversationID string
	TurnID         string

	// ExtractEntities and ExtractKnowledge enable the two extraction
	// kinds independently.
	ExtractEntities  bool
	ExtractKnowledge bool
}

// ExtractedEntity is one entity produced by the model.
type ExtractedEntity struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Details string `json:"details"`
}

// Extraction is the parsed model output.
type Extraction struct {
	Entities  []ExtractedEntity `json:"entities"`
	Knowledge []string          `json:"knowledge"`
}

// Pipeline extracts memories from new content.
type Pipeline struct {
	service    genai.Service
	structured tier.Tier
	semantic   tier.Tier
	trail      *audit.Trail
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for contained failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates an extraction pipeline. The structured and semantic
// tiers receive the extracted records; the trail records every run.
func New(service genai.Service, structured, semantic tier.Tier, trail *audit.Trail, opts ...Option) *Pipeline {
	p := &Pipeline{
		service:    service,
		structured: structured,
		semantic:   semantic,
		trail:      trail,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the pipeline for one piece of content. It never returns
// an error: all failures are contained, recorded and logged.
func (p *Pipeline) Run(ctx context.Context, input Input) {
	rec, err := p.trail.Begin(ctx, "memory_extraction")
	if err != nil {
		p.logger.Error("memory extraction could not start audit run", "error", err)
		return
	}

	if err := p.run(ctx, input, rec); err != nil {
		p.logger.Error("memory extraction failed",
			"conversation_id", input.ConversationID, "turn_id", input.TurnID, "error", err)
		p.finish(ctx, rec, audit.StatusFailed)
		return
	}
	p.finish(ctx, rec, audit.StatusCompleted)
}

func (p *Pipeline) run(ctx context.Context, input Input, rec *audit.Recorder) error {
	if !input.ExtractEntities && !input.ExtractKnowledge {
		return nil
	}

	// Step 1: one structured-extraction call.
	stepStart := time.Now()
	extraction, err := p.extract(ctx, input)
	if err != nil {
		p.step(ctx, rec, "extract", audit.StatusFailed, input.Content, err.Error(), stepStart)
		return err
	}
	p.step(ctx, rec, "extract", audit.StatusCompleted, input.Content,
		fmt.Sprintf("%d entities, %d snippets", len(extraction.Entities), len(extraction.Knowledge)), stepStart)

	// Step 2: entities into the structured tier.
	if input.ExtractEntities {
		stepStart = time.Now()
		stored := 0
		for _, entity := range extraction.Entities {
			_, err := p.structured.Store(ctx, tier.StoreParams{
				Content: entity.Details,
				Metadata: map[string]interface{}{
					"kind": "entity",
					"name": entity.Name,
					"type": entity.Type,
				},
			})
			if err != nil {
				p.step(ctx, rec, "store_entities", audit.StatusFailed,
					fmt.Sprintf("%d entities", len(extraction.Entities)), err.Error(), stepStart)
				return fmt.Errorf("failed to store entity %q: %w", entity.Name, err)
			}
			stored++
		}
		p.step(ctx, rec, "store_entities", audit.StatusCompleted,
			fmt.Sprintf("%d entities", len(extraction.Entities)),
			fmt.Sprintf("%d stored", stored), stepStart)
	}

	// Step 3: knowledge snippets into the semantic tier.
	if input.ExtractKnowledge {
		stepStart = time.Now()
		stored := 0
		for _, snippet := range extraction.Knowledge {
			_, err := p.semantic.Store(ctx, tier.StoreParams{
				Content: snippet,
				Metadata: map[string]interface{}{
					"source":          "extraction",
					"conversation_id": input.ConversationID,
					"turn_id":         input.TurnID,
				},
			})
			if err != nil {
				p.step(ctx, rec, "store_knowledge", audit.StatusFailed,
					fmt.Sprintf("%d snippets", len(extraction.Knowledge)), err.Error(), stepStart)
				return fmt.Errorf("failed to store knowledge snippet: %w", err)
			}
			stored++
		}
		p.step(ctx, rec, "store_knowledge", audit.StatusCompleted,
			fmt.Sprintf("%d snippets", len(extraction.Knowledge)),
			fmt.Sprintf("%d stored", stored), stepStart)
	}

	return nil
}

// extract makes the single structured-extraction call and parses its
// JSON output.
func (p *Pipeline) extract(ctx context.Context, input Input) (*Extraction, error) {
	messages := []genai.Message{
		{Role: genai.RoleUser, Content: fmt.Sprintf("Input:\n%s", input.Content)},
	}

	response, err := p.service.GenerateText(ctx, messages, extractionPrompt)
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}

	extraction := &Extraction{}
	if err := json.Unmarshal([]byte(removeCodeBlocks(response)), extraction); err != nil {
		return nil, fmt.Errorf("invalid extraction response: %w", err)
	}
	return extraction, nil
}

// step records one audit step, logging rather than raising a recording
// failure.
func (p *Pipeline) step(ctx context.Context, rec *audit.Recorder, name, status, in, out string, start time.Time) {
	if err := rec.Step(ctx, name, status, summarize(in), summarize(out), time.Since(start)); err != nil {
		p.logger.Warn("failed to record extraction step", "step", name, "error", err)
	}
}

func (p *Pipeline) finish(ctx context.Context, rec *audit.Recorder, status string) {
	if err := rec.Finish(ctx, status); err != nil {
		p.logger.Warn("failed to finalize extraction run", "error", err)
	}
}

const extractionPrompt = `You are a memory extraction assistant. From the input text, extract:
1. Entities: named people, organizations, projects, places or things, each with a name, a type and a one-line details string.
2. Knowledge: self-contained factual snippets worth remembering, phrased so they make sense without the surrounding conversation.

Return JSON only, in this exact shape:
{"entities": [{"name": "...", "type": "...", "details": "..."}], "knowledge": ["...", "..."]}

If nothing qualifies, return {"entities": [], "knowledge": []}.`

// removeCodeBlocks strips markdown code fences some models wrap JSON in.
func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}

func summarize(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
