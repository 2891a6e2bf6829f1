package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mindweave/mindcore-go/pkg/genai"
	"github.com/mindweave/mindcore-go/pkg/tier"
	"github.com/mindweave/mindcore-go/pkg/tier/episodic"
)

const summarizerPrompt = `Summarize the following message in a few sentences, keeping every concrete fact, name and date. Return only the summary.`

// turnSummarizer condenses long turns and stores the summary into the
// semantic tier. It runs detached from the store call that triggered
// it; errors are returned to the episodic store, which logs them.
type turnSummarizer struct {
	service  genai.Service
	semantic tier.Tier
	logger   *slog.Logger
}

func (s *turnSummarizer) Summarize(ctx context.Context, turn *episodic.Turn) error {
	summary, err := s.service.GenerateText(ctx,
		[]genai.Message{{Role: genai.RoleUser, Content: turn.Content}},
		summarizerPrompt)
	if err != nil {
		return fmt.Errorf("failed to summarize turn: %w", err)
	}

	_, err = s.semantic.Store(ctx, tier.StoreParams{
		Content: summary,
		Metadata: map[string]interface{}{
			"source":          "turn_summary",
			"conversation_id": turn.ConversationID,
			"turn_id":         turn.ID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to store turn summary: %w", err)
	}

	s.logger.Debug("turn summarized", "turn_id", turn.ID)
	return nil
}
