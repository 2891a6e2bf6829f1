package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/mindweave/mindcore-go/pkg/agent"
	"github.com/mindweave/mindcore-go/pkg/assembly"
	"github.com/mindweave/mindcore-go/pkg/experience"
	"github.com/mindweave/mindcore-go/pkg/extraction"
	"github.com/mindweave/mindcore-go/pkg/genai"
	"github.com/mindweave/mindcore-go/pkg/tier"
	"github.com/mindweave/mindcore-go/pkg/tier/episodic"
)

// ChatResult is the outcome of one Chat call.
type ChatResult struct {
	// Reply is the generated response text.
	Reply string

	// Retrievals holds the raw per-tier retrieval results.
	Retrievals map[string][]tier.Result

	// LatencyMs is the wall-clock duration of the turn in milliseconds.
	LatencyMs int64
}

// RunStatus is a point-in-time snapshot of an agent run.
type RunStatus struct {
	Run    *agent.Run
	Phases []*agent.Phase
	Steps  map[string][]*agent.Step
}

// CreateConversation creates a conversation with the given tier flags.
func (a *Assistant) CreateConversation(ctx context.Context, title, systemInstruction string, flags TierFlags) (*episodic.Conversation, error) {
	conv := &episodic.Conversation{
		Title:             title,
		SystemInstruction: systemInstruction,
		EnableSemantic:    flags.Semantic,
		EnableStructured:  flags.Structured,
		EnableGraph:       flags.Graph,
		EnableDocument:    flags.Document,
	}
	if err := a.episodic.CreateConversation(ctx, conv); err != nil {
		return nil, NewCoreError("CreateConversation", err)
	}
	return conv, nil
}

// AppendTurn appends one turn to a conversation.
func (a *Assistant) AppendTurn(ctx context.Context, conversationID, role, content string) (*episodic.Turn, error) {
	turn, err := a.episodic.AppendTurn(ctx, &episodic.Turn{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	})
	if err != nil {
		return nil, NewCoreError("AppendTurn", err)
	}
	return turn, nil
}

// Chat runs one full user turn: context assembly over the enabled
// tiers, reply generation, turn persistence and detached memory
// extraction. The extraction never blocks or fails the reply.
func (a *Assistant) Chat(ctx context.Context, conversationID, query string, contacts ...string) (*ChatResult, error) {
	conv, err := a.episodic.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, episodic.ErrConversationNotFound) {
			return nil, NewCoreError("Chat", fmt.Errorf("%w: %v", ErrNotFound, err))
		}
		return nil, NewCoreError("Chat", err)
	}

	if _, err := a.AppendTurn(ctx, conversationID, "user", query); err != nil {
		return nil, err
	}

	result, err := a.assembler.Assemble(ctx, conv, query, assembly.Options{
		Depth:    a.config.Assembly.Depth,
		TopK:     a.config.Assembly.TopK,
		Contacts: contacts,
	})
	if err != nil {
		return nil, NewCoreError("Chat", fmt.Errorf("%w: %v", ErrGenerationFailed, err))
	}

	modelTurn, err := a.AppendTurn(ctx, conversationID, "model", result.Text)
	if err != nil {
		return nil, err
	}

	// Learning runs out of band: the reply returns without waiting.
	a.dispatcher.Go("memory_extraction", func(ctx context.Context) {
		a.extractor.Run(ctx, extraction.Input{
			Content:          fmt.Sprintf("user: %s\nmodel: %s", query, result.Text),
			ConversationID:   conversationID,
			TurnID:           modelTurn.ID,
			ExtractEntities:  conv.EnableStructured,
			ExtractKnowledge: conv.EnableSemantic,
		})
	})

	return &ChatResult{
		Reply:      result.Text,
		Retrievals: result.Retrievals,
		LatencyMs:  result.Latency.Milliseconds(),
	}, nil
}

// RegisterTool adds a tool to the agent engine's registry.
func (a *Assistant) RegisterTool(tool agent.Tool) {
	a.tools.Register(tool)
}

// ApprovePlan atomically creates an agent run with its ordered phases.
func (a *Assistant) ApprovePlan(ctx context.Context, goal string, phaseGoals []string) (*agent.Run, error) {
	run, err := a.engine.ApprovePlan(ctx, goal, phaseGoals)
	if err != nil {
		return nil, NewCoreError("ApprovePlan", err)
	}
	return run, nil
}

// ExecuteRun drives an approved run to completion. On success the run
// is consolidated into an experience out of band.
func (a *Assistant) ExecuteRun(ctx context.Context, runID string) error {
	if err := a.engine.ExecuteRun(ctx, runID); err != nil {
		return NewCoreError("ExecuteRun", err)
	}
	return nil
}

// GetRunStatus returns the persisted state of a run, its phases and
// every phase's steps. It can be polled while the run executes.
func (a *Assistant) GetRunStatus(ctx context.Context, runID string) (*RunStatus, error) {
	run, err := a.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, NewCoreError("GetRunStatus", err)
	}
	phases, err := a.runs.ListPhases(ctx, runID)
	if err != nil {
		return nil, NewCoreError("GetRunStatus", err)
	}

	steps := make(map[string][]*agent.Step, len(phases))
	for _, phase := range phases {
		phaseSteps, err := a.runs.ListSteps(ctx, phase.ID)
		if err != nil {
			return nil, NewCoreError("GetRunStatus", err)
		}
		steps[phase.ID] = phaseSteps
	}

	return &RunStatus{Run: run, Phases: phases, Steps: steps}, nil
}

// FindExperiences looks up consolidated experiences matching a query.
func (a *Assistant) FindExperiences(ctx context.Context, query string, limit int) ([]*experience.Experience, error) {
	experiences, err := a.experiences.Find(ctx, query, limit)
	if err != nil {
		return nil, NewCoreError("FindExperiences", err)
	}
	return experiences, nil
}

// UseExperience bumps an experience's usage counter.
func (a *Assistant) UseExperience(ctx context.Context, id string) error {
	if err := a.experiences.IncrementUseCount(ctx, id); err != nil {
		return NewCoreError("UseExperience", err)
	}
	return nil
}

// Registry exposes the tier registry for direct tier access.
func (a *Assistant) Registry() tier.Registry {
	return a.registry
}

// Service exposes the generative service, including its retry policy.
func (a *Assistant) Service() genai.Service {
	return a.service
}
