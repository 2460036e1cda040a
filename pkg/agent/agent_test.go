package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiss/near-catalyst/pkg/cache"
	"github.com/shaiss/near-catalyst/pkg/config"
	"github.com/shaiss/near-catalyst/pkg/database"
	"github.com/shaiss/near-catalyst/pkg/llm"
	"github.com/shaiss/near-catalyst/pkg/models"
	"github.com/shaiss/near-catalyst/pkg/usage"
)

// fakeProvider answers by inspecting the prompt, and counts calls.
type fakeProvider struct {
	calls   atomic.Int64
	failAll bool

	// respond maps a prompt substring to the canned reply. First match wins.
	respond []promptReply
}

type promptReply struct {
	contains string
	reply    string
}

func (f *fakeProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.calls.Add(1)
	if f.failAll {
		return nil, &llm.ProviderError{Category: "provider", Err: errors.New("upstream unavailable")}
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	for _, r := range f.respond {
		if strings.Contains(prompt, r.contains) {
			return &llm.Response{
				Content: r.reply,
				Usage:   llm.Usage{InputTokens: 100, OutputTokens: 50},
			}, nil
		}
	}
	return &llm.Response{Content: "generic reply", Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func newTestDeps(t *testing.T, provider llm.CompletionProvider) Deps {
	t.Helper()

	store, err := database.NewStore(context.Background(),
		database.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	return Deps{
		Tracker: usage.NewTracker(provider, llm.NewPricingTable(), store),
		Cache:   cache.New(store, cfg.FreshnessWindow),
		Store:   store,
		Config:  cfg,
	}
}

func testSubject() models.Subject {
	return models.Subject{
		ID:          "acme-labs",
		DisplayName: "Acme Labs",
		Profile: models.Profile{
			Tagline: "Rockets as a service",
			Tags:    []string{"infrastructure", "tooling"},
			Phase:   "mainnet",
		},
	}
}

func TestResearchAgent_Run(t *testing.T) {
	provider := &fakeProvider{respond: []promptReply{
		{contains: "Research the project", reply: "Acme builds rockets. See [docs](https://acme.dev/docs)."},
	}}
	deps := newTestDeps(t, provider)
	agent := NewResearchAgent(deps)
	ctx := context.Background()

	artifact, err := agent.Run(ctx, testSubject())
	require.NoError(t, err)
	assert.Equal(t, "acme-labs", artifact.SubjectID)
	assert.Contains(t, artifact.Body, "Acme builds rockets")
	require.Len(t, artifact.Sources, 1)
	assert.Equal(t, "https://acme.dev/docs", artifact.Sources[0].URL)

	// Persisted to the store.
	stored, err := deps.Store.GetResearch(ctx, "acme-labs")
	require.NoError(t, err)
	assert.Equal(t, artifact.Body, stored.Body)

	// Second run serves the cache, no new provider call.
	before := provider.calls.Load()
	again, err := agent.Run(ctx, testSubject())
	require.NoError(t, err)
	assert.Equal(t, artifact.Body, again.Body)
	assert.Equal(t, before, provider.calls.Load())
}

func TestResearchAgent_ProviderFailureFallsBackToProfile(t *testing.T) {
	provider := &fakeProvider{failAll: true}
	deps := newTestDeps(t, provider)
	agent := NewResearchAgent(deps)

	artifact, err := agent.Run(context.Background(), testSubject())
	require.NoError(t, err)
	assert.Contains(t, artifact.Body, "Basic info - Acme Labs")
	assert.Contains(t, artifact.Body, "Rockets as a service")
	assert.Contains(t, artifact.Body, "infrastructure, tooling")
	assert.Empty(t, artifact.Sources)
}

func TestDimensionAgent_Run(t *testing.T) {
	provider := &fakeProvider{respond: []promptReply{
		{contains: "DIAGNOSTIC QUESTION", reply: "ANALYSIS: Fills an obvious gap.\n\nSCORE: +1\n\nCONFIDENCE: High"},
		{contains: "researching a potential partner", reply: "Dimension research notes."},
	}}
	deps := newTestDeps(t, provider)
	agent := NewDimensionAgent(deps)
	ctx := context.Background()

	subject := testSubject()
	dim := deps.Config.Dimensions[0]
	research := &models.ResearchArtifact{SubjectID: subject.ID, Body: "General research."}

	judgment, err := agent.Run(ctx, subject, dim, research)
	require.NoError(t, err)
	assert.Equal(t, 1, judgment.Score)
	assert.Equal(t, models.ConfidenceHigh, judgment.Confidence)
	assert.Equal(t, "Fills an obvious gap.", judgment.Rationale)
	assert.False(t, judgment.Cached)
	assert.False(t, judgment.Degraded())

	// Research phase plus analysis phase.
	assert.Equal(t, int64(2), provider.calls.Load())

	// Persisted row matches.
	stored, err := deps.Store.ListJudgments(ctx, subject.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 1, stored[0].Score)

	// Second run hits the judgment cache: no calls, Cached flag set.
	again, err := agent.Run(ctx, subject, dim, research)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, 1, again.Score)
	assert.Equal(t, int64(2), provider.calls.Load())
}

func TestDimensionAgent_UnparseableOutputDefaults(t *testing.T) {
	provider := &fakeProvider{respond: []promptReply{
		{contains: "DIAGNOSTIC QUESTION", reply: "I think this is probably fine overall."},
		{contains: "researching a potential partner", reply: "Notes."},
	}}
	deps := newTestDeps(t, provider)
	agent := NewDimensionAgent(deps)

	judgment, err := agent.Run(context.Background(), testSubject(), deps.Config.Dimensions[1], nil)
	require.NoError(t, err)
	assert.Equal(t, 0, judgment.Score)
	assert.Equal(t, models.ConfidenceLow, judgment.Confidence)
	assert.Equal(t, "I think this is probably fine overall.", judgment.Rationale)
	assert.False(t, judgment.Degraded())
}

func TestDimensionAgent_ProviderErrorPropagates(t *testing.T) {
	provider := &fakeProvider{failAll: true}
	deps := newTestDeps(t, provider)
	agent := NewDimensionAgent(deps)

	_, err := agent.Run(context.Background(), testSubject(), deps.Config.Dimensions[0], nil)
	require.Error(t, err)

	var provErr *llm.ProviderError
	assert.True(t, errors.As(err, &provErr))
}

func TestSynthesisAgent_Run(t *testing.T) {
	provider := &fakeProvider{respond: []promptReply{
		{contains: "final decision engine", reply: "Partnership brief text."},
	}}
	deps := newTestDeps(t, provider)
	agent := NewSynthesisAgent(deps)
	ctx := context.Background()

	subject := testSubject()
	scores := []int{1, 1, 0, 1, 1, 1}
	judgments := make([]models.DimensionJudgment, len(scores))
	for i, score := range scores {
		judgments[i] = models.DimensionJudgment{
			SubjectID:   subject.ID,
			DimensionID: i + 1,
			Score:       score,
			Confidence:  models.ConfidenceHigh,
		}
	}

	result, err := agent.Run(ctx, subject, nil, judgments)
	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalScore)
	assert.Equal(t, config.RecommendationStrong, result.Recommendation)
	assert.Equal(t, "Partnership brief text.", result.Narrative)

	stored, err := deps.Store.GetSynthesis(ctx, subject.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.TotalScore)
}

func TestSynthesisAgent_RejectsIncompleteJudgmentSet(t *testing.T) {
	deps := newTestDeps(t, &fakeProvider{})
	agent := NewSynthesisAgent(deps)

	_, err := agent.Run(context.Background(), testSubject(), nil,
		[]models.DimensionJudgment{{DimensionID: 1, Score: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires 6 judgments")
}

func TestSynthesisAgent_DegradedNarrativeOnProviderFailure(t *testing.T) {
	deps := newTestDeps(t, &fakeProvider{failAll: true})
	agent := NewSynthesisAgent(deps)

	judgments := make([]models.DimensionJudgment, 6)
	for i := range judgments {
		judgments[i] = models.DimensionJudgment{
			SubjectID: "acme-labs", DimensionID: i + 1, Score: -1, Confidence: models.ConfidenceLow,
		}
	}

	result, err := agent.Run(context.Background(), testSubject(), nil, judgments)
	require.NoError(t, err)
	assert.Equal(t, -6, result.TotalScore)
	assert.Equal(t, config.RecommendationDecline, result.Recommendation)
	assert.Contains(t, result.Narrative, "Synthesis narrative unavailable")
}

func TestExtractSources(t *testing.T) {
	body := "Intro text [Acme Docs](https://acme.dev/docs) and later [GitHub](https://github.com/acme/labs)."

	sources := ExtractSources(body)
	require.Len(t, sources, 2)

	assert.Equal(t, "Acme Docs", sources[0].Title)
	assert.Equal(t, "https://acme.dev/docs", sources[0].URL)
	assert.Equal(t, "[Acme Docs](https://acme.dev/docs)", body[sources[0].StartIndex:sources[0].EndIndex])

	assert.Equal(t, "GitHub", sources[1].Title)
	assert.Equal(t, "https://github.com/acme/labs", sources[1].URL)
}

func TestExtractSources_NoLinks(t *testing.T) {
	assert.Empty(t, ExtractSources("plain text without citations"))
}
