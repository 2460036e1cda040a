package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shaiss/near-catalyst/pkg/agent/prompt"
	"github.com/shaiss/near-catalyst/pkg/llm"
	"github.com/shaiss/near-catalyst/pkg/models"
)

// ResearchAgent gathers the general research artifact for a subject.
// Its result carries no score or confidence, just the body text and
// source citations extracted from it.
type ResearchAgent struct {
	deps    Deps
	prompts *prompt.Builder
}

// NewResearchAgent creates a research agent.
func NewResearchAgent(deps Deps) *ResearchAgent {
	return &ResearchAgent{deps: deps, prompts: prompt.NewBuilder()}
}

// Run produces the research artifact for a subject: fresh cache hit,
// or a tracked model call followed by cache and store writes. A provider
// failure degrades to a profile-derived fallback body instead of failing
// the run.
func (a *ResearchAgent) Run(ctx context.Context, subject models.Subject) (*models.ResearchArtifact, error) {
	log := slog.With("subject", subject.ID, "agent", NameResearch)

	var cached models.ResearchArtifact
	hit, err := a.deps.Cache.Get(ctx, subject.DisplayName, taskResearch, &cached)
	if err != nil {
		return nil, fmt.Errorf("research cache lookup failed: %w", err)
	}
	if hit {
		log.Info("Using cached research")
		return &cached, nil
	}

	req := llm.Request{
		Model: a.deps.Config.Models.Research,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: a.prompts.BuildResearchPrompt(subject)},
		},
		Timeout: a.deps.Config.Timeouts.Research,
	}

	artifact := &models.ResearchArtifact{
		SubjectID: subject.ID,
		CreatedAt: time.Now().UTC(),
	}

	resp, err := a.deps.Tracker.Call(ctx, NameResearch, req)
	if err != nil {
		log.Warn("General research failed, using profile fallback", "error", err)
		artifact.Body = fallbackBody(subject)
	} else {
		artifact.Body = resp.Content
		artifact.Sources = ExtractSources(resp.Content)
	}

	if err := a.deps.Store.SaveResearch(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to persist research artifact: %w", err)
	}
	if err := a.deps.Cache.Put(ctx, subject.DisplayName, taskResearch, artifact); err != nil {
		log.Warn("Failed to cache research artifact", "error", err)
	}

	log.Info("Research completed", "sources", len(artifact.Sources))
	return artifact, nil
}

// fallbackBody assembles the degraded research body from profile data.
func fallbackBody(subject models.Subject) string {
	parts := []string{"Basic info - " + subject.DisplayName}
	if subject.Profile.Tagline != "" {
		parts = append(parts, "Tagline: "+subject.Profile.Tagline)
	}
	if len(subject.Profile.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(subject.Profile.Tags, ", "))
	}
	if subject.Profile.Phase != "" {
		parts = append(parts, "Phase: "+subject.Profile.Phase)
	}
	return strings.Join(parts, ". ")
}

// markdownLink matches [title](http...) citations in the body.
var markdownLink = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)

// ExtractSources pulls markdown-link citations out of a research body,
// recording each link's character offsets as provenance.
func ExtractSources(body string) []models.Source {
	matches := markdownLink.FindAllStringSubmatchIndex(body, -1)
	sources := make([]models.Source, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, models.Source{
			Title:      body[m[2]:m[3]],
			URL:        body[m[4]:m[5]],
			StartIndex: m[0],
			EndIndex:   m[1],
		})
	}
	return sources
}
