package experience

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mindweave/mindcore-go/pkg/agent"
	"github.com/mindweave/mindcore-go/pkg/genai"
)

// Consolidator distills completed agent runs into experiences. It runs
// entirely outside the user-facing request cycle: every failure is
// caught and logged, never raised.
type Consolidator struct {
	runs    *agent.RunStore
	service genai.Service
	store   *Store
	logger  *slog.Logger
}

// Option configures a Consolidator.
type Option func(*Consolidator)

// WithLogger sets the consolidator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consolidator) { c.logger = l }
}

// NewConsolidator creates a consolidator over the agent run store,
// generative service and experience store.
func NewConsolidator(runs *agent.RunStore, service genai.Service, store *Store, opts ...Option) *Consolidator {
	c := &Consolidator{
		runs:    runs,
		service: service,
		store:   store,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consolidate processes one completed run. A run with zero completed
// steps is skipped silently (logged); any other failure is logged and
// swallowed.
func (c *Consolidator) Consolidate(ctx context.Context, runID string) {
	if err := c.consolidate(ctx, runID); err != nil {
		c.logger.Error("experience consolidation failed", "run_id", runID, "error", err)
	}
}

func (c *Consolidator) consolidate(ctx context.Context, runID string) error {
	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	transcript, stepCount, err := c.buildTranscript(ctx, run)
	if err != nil {
		return err
	}
	if stepCount == 0 {
		c.logger.Info("skipping consolidation, run has no completed steps", "run_id", runID)
		return nil
	}

	extracted, err := c.extract(ctx, transcript)
	if err != nil {
		return err
	}

	exp := &Experience{
		RunID:        run.ID,
		GoalTemplate: extracted.GoalTemplate,
		Keywords:     extracted.Keywords,
		Steps:        extracted.Steps,
	}
	if err := c.store.Save(ctx, exp); err != nil {
		return err
	}

	c.logger.Info("experience consolidated", "run_id", runID, "experience_id", exp.ID)
	return nil
}

// buildTranscript formats the run goal and every completed step across
// all phases, returning the completed-step count for the precondition
// check.
func (c *Consolidator) buildTranscript(ctx context.Context, run *agent.Run) (string, int, error) {
	phases, err := c.runs.ListPhases(ctx, run.ID)
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", run.Goal)

	count := 0
	for _, phase := range phases {
		steps, err := c.runs.ListSteps(ctx, phase.ID)
		if err != nil {
			return "", 0, err
		}

		var lines []string
		for _, step := range steps {
			if step.Status != agent.StatusCompleted {
				continue
			}
			count++
			line := fmt.Sprintf("  Step %d: %s", step.Order, step.Thought)
			if step.Action != "" {
				line += fmt.Sprintf(" [%s -> %s]", step.Action, step.Observation)
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			fmt.Fprintf(&b, "Phase %d: %s\n%s\n", phase.Order, phase.Goal, strings.Join(lines, "\n"))
		}
	}
	return b.String(), count, nil
}

type extractedExperience struct {
	GoalTemplate string   `json:"goal_template"`
	Keywords     []string `json:"keywords"`
	Steps        []string `json:"steps"`
}

func (c *Consolidator) extract(ctx context.Context, transcript string) (*extractedExperience, error) {
	messages := []genai.Message{
		{Role: genai.RoleUser, Content: transcript},
	}

	response, err := c.service.GenerateText(ctx, messages, consolidationPrompt)
	if err != nil {
		return nil, fmt.Errorf("consolidation call failed: %w", err)
	}

	extracted := &extractedExperience{}
	if err := json.Unmarshal([]byte(removeCodeBlocks(response)), extracted); err != nil {
		return nil, fmt.Errorf("invalid consolidation response: %w", err)
	}
	if extracted.GoalTemplate == "" {
		return nil, fmt.Errorf("consolidation produced no goal template")
	}
	return extracted, nil
}

const consolidationPrompt = `You are an experience consolidation assistant. From the agent run transcript, produce:
1. goal_template: the goal generalized with placeholders for the specifics, e.g. "Summarize topic {topic}".
2. keywords: short trigger words for retrieving this experience later.
3. steps: the approach as an abstracted step list, goal-only, with no tool-specific detail.

Return JSON only, in this exact shape:
{"goal_template": "...", "keywords": ["..."], "steps": ["..."]}`

func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
