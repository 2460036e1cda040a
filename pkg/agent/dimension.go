package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiss/near-catalyst/pkg/agent/prompt"
	"github.com/shaiss/near-catalyst/pkg/config"
	"github.com/shaiss/near-catalyst/pkg/llm"
	"github.com/shaiss/near-catalyst/pkg/models"
)

// DimensionAgent evaluates one diagnostic dimension in two phases:
// dimension-focused research, then a scoring analysis parsed against the
// SCORE/CONFIDENCE grammar. Both phases are independently cached under
// dimension-specific task keys.
type DimensionAgent struct {
	deps    Deps
	prompts *prompt.Builder
}

// NewDimensionAgent creates a dimension agent.
func NewDimensionAgent(deps Deps) *DimensionAgent {
	return &DimensionAgent{deps: deps, prompts: prompt.NewBuilder()}
}

// Run produces the judgment for one dimension. A fresh cache hit returns
// the prior judgment with Cached set and no model call. Provider errors
// propagate to the executor, which converts them into degraded judgments.
func (a *DimensionAgent) Run(ctx context.Context, subject models.Subject, dim config.Dimension, research *models.ResearchArtifact) (models.DimensionJudgment, error) {
	log := slog.With("subject", subject.ID, "dimension", dim.Key, "agent", NameDimension)

	var cached models.DimensionJudgment
	hit, err := a.deps.Cache.Get(ctx, subject.DisplayName, taskDimensionJudgment+dim.Key, &cached)
	if err != nil {
		return models.DimensionJudgment{}, fmt.Errorf("judgment cache lookup failed: %w", err)
	}
	if hit {
		log.Info("Using cached judgment", "score", cached.Score)
		cached.Cached = true
		return cached, nil
	}

	researchBody := ""
	if research != nil {
		researchBody = research.Body
	}

	dimResearch, err := a.conductResearch(ctx, subject, dim, researchBody)
	if err != nil {
		return models.DimensionJudgment{}, err
	}

	judgment, err := a.conductAnalysis(ctx, subject, dim, researchBody, dimResearch)
	if err != nil {
		return models.DimensionJudgment{}, err
	}

	if err := a.deps.Store.SaveJudgment(ctx, &judgment); err != nil {
		return models.DimensionJudgment{}, fmt.Errorf("failed to persist judgment for dimension %d: %w", dim.ID, err)
	}
	if err := a.deps.Cache.Put(ctx, subject.DisplayName, taskDimensionJudgment+dim.Key, judgment); err != nil {
		log.Warn("Failed to cache judgment", "error", err)
	}

	log.Info("Dimension analyzed", "score", judgment.Score, "confidence", judgment.Confidence)
	return judgment, nil
}

// conductResearch is the cached research phase for one dimension.
func (a *DimensionAgent) conductResearch(ctx context.Context, subject models.Subject, dim config.Dimension, generalResearch string) (string, error) {
	var cached string
	hit, err := a.deps.Cache.Get(ctx, subject.DisplayName, taskDimensionResearch+dim.Key, &cached)
	if err != nil {
		return "", fmt.Errorf("dimension research cache lookup failed: %w", err)
	}
	if hit {
		return cached, nil
	}

	resp, err := a.deps.Tracker.Call(ctx, NameDimension, llm.Request{
		Model: a.deps.Config.Models.Dimension,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: a.prompts.BuildDimensionResearchPrompt(dim, subject, generalResearch)},
		},
		Timeout: a.deps.Config.Timeouts.Dimension,
	})
	if err != nil {
		return "", fmt.Errorf("dimension %d research call failed: %w", dim.ID, err)
	}

	if err := a.deps.Cache.Put(ctx, subject.DisplayName, taskDimensionResearch+dim.Key, resp.Content); err != nil {
		slog.Warn("Failed to cache dimension research",
			"subject", subject.ID, "dimension", dim.Key, "error", err)
	}
	return resp.Content, nil
}

// conductAnalysis is the scoring phase. Parse failures never propagate:
// they fall back to score 0, confidence Low, raw text as rationale.
func (a *DimensionAgent) conductAnalysis(ctx context.Context, subject models.Subject, dim config.Dimension, generalResearch, dimResearch string) (models.DimensionJudgment, error) {
	resp, err := a.deps.Tracker.Call(ctx, NameDimension, llm.Request{
		Model: a.deps.Config.Models.Dimension,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: a.prompts.BuildDimensionAnalysisPrompt(dim, subject, generalResearch, dimResearch)},
		},
		Timeout: a.deps.Config.Timeouts.Dimension,
	})
	if err != nil {
		return models.DimensionJudgment{}, fmt.Errorf("dimension %d analysis call failed: %w", dim.ID, err)
	}

	parsed, parseErr := ParseJudgment(resp.Content)
	if parseErr != nil {
		slog.Warn("Judgment output did not match grammar, applying defaults",
			"subject", subject.ID, "dimension", dim.Key, "error", parseErr)
		parsed = DefaultParsed(resp.Content)
	}

	return models.DimensionJudgment{
		SubjectID:   subject.ID,
		DimensionID: dim.ID,
		Score:       parsed.Score,
		Confidence:  parsed.Confidence,
		Rationale:   parsed.Rationale,
		Research:    dimResearch,
		Sources:     ExtractSources(dimResearch),
		CreatedAt:   time.Now().UTC(),
	}, nil
}
