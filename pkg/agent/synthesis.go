package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiss/near-catalyst/pkg/agent/prompt"
	"github.com/shaiss/near-catalyst/pkg/llm"
	"github.com/shaiss/near-catalyst/pkg/models"
)

// SynthesisAgent aggregates the full ordered judgment set into the final
// result: summed score, threshold-derived recommendation, and a narrative
// from one model call. The score and recommendation are computed locally;
// only the narrative depends on the provider, so a provider failure
// degrades the narrative without losing the result.
type SynthesisAgent struct {
	deps    Deps
	prompts *prompt.Builder
}

// NewSynthesisAgent creates a synthesis agent.
func NewSynthesisAgent(deps Deps) *SynthesisAgent {
	return &SynthesisAgent{deps: deps, prompts: prompt.NewBuilder()}
}

// Run synthesizes all dimension judgments for a subject and persists the
// result. Requires the complete judgment set, one per configured
// dimension, degraded or not.
func (a *SynthesisAgent) Run(ctx context.Context, subject models.Subject, research *models.ResearchArtifact, judgments []models.DimensionJudgment) (*models.SynthesisResult, error) {
	log := slog.With("subject", subject.ID, "agent", NameSynthesis)

	if want, got := len(a.deps.Config.Dimensions), len(judgments); got != want {
		return nil, fmt.Errorf("synthesis requires %d judgments, got %d", want, got)
	}

	total := 0
	for _, j := range judgments {
		total += j.Score
	}

	result := &models.SynthesisResult{
		SubjectID:      subject.ID,
		TotalScore:     total,
		Recommendation: a.deps.Config.Recommendation(total),
		CreatedAt:      time.Now().UTC(),
	}

	researchBody := ""
	if research != nil {
		researchBody = research.Body
	}

	resp, err := a.deps.Tracker.Call(ctx, NameSynthesis, llm.Request{
		Model: a.deps.Config.Models.Synthesis,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: a.prompts.BuildSynthesisPrompt(subject, researchBody, judgments, a.deps.Config.Thresholds)},
		},
		Timeout: a.deps.Config.Timeouts.Synthesis,
	})
	if err != nil {
		log.Warn("Synthesis narrative call failed, persisting degraded result", "error", err)
		result.Narrative = fmt.Sprintf("Synthesis narrative unavailable: %v", err)
	} else {
		result.Narrative = resp.Content
	}

	if err := a.deps.Store.SaveSynthesis(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to persist synthesis result: %w", err)
	}

	log.Info("Synthesis completed",
		"total_score", result.TotalScore, "recommendation", result.Recommendation)
	return result, nil
}
