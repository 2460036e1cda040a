package orchestrator

import (
	"context"
	"encoding/json"
	"os"
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

// scriptedProvider plays the full pipeline: research, per-dimension
// research and analysis, and synthesis, with per-question scores.
type scriptedProvider struct {
	calls atomic.Int64

	// scoreByQuestion overrides the default +1 analysis score.
	scoreByQuestion map[string]string
}

func (p *scriptedProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	p.calls.Add(1)
	prompt := req.Messages[len(req.Messages)-1].Content
	tokens := llm.Usage{InputTokens: 100, OutputTokens: 50}

	switch {
	case strings.Contains(prompt, "DIAGNOSTIC QUESTION"):
		score := "+1"
		for question, s := range p.scoreByQuestion {
			if strings.Contains(prompt, question) {
				score = s
			}
		}
		return &llm.Response{
			Content: "ANALYSIS: Scripted reasoning.\n\nSCORE: " + score + "\n\nCONFIDENCE: High",
			Usage:   tokens,
		}, nil
	case strings.Contains(prompt, "final decision engine"):
		return &llm.Response{Content: "Scripted partnership brief.", Usage: tokens}, nil
	case strings.Contains(prompt, "researching a potential partner"):
		return &llm.Response{Content: "Scripted dimension research.", Usage: tokens}, nil
	default:
		return &llm.Response{
			Content: "Scripted general research with [docs](https://acme.dev/docs).",
			Usage:   tokens,
		}, nil
	}
}

type fixture struct {
	orch     *Orchestrator
	store    *database.Store
	tracker  *usage.Tracker
	cfg      *config.Config
	provider *scriptedProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	store, err := database.NewStore(context.Background(),
		database.DefaultConfig(filepath.Join(dir, "catalyst.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.ExportDir = filepath.Join(dir, "exports")

	provider := &scriptedProvider{
		// Dimension 3 scores 0; the rest default to +1. Total 5.
		scoreByQuestion: map[string]string{"One-Sentence Story?": "0"},
	}
	tracker := usage.NewTracker(provider, llm.NewPricingTable(), store)
	fpCache := cache.New(store, cfg.FreshnessWindow)

	return &fixture{
		orch:     New(cfg, store, fpCache, tracker),
		store:    store,
		tracker:  tracker,
		cfg:      cfg,
		provider: provider,
	}
}

func testSubject(id, name string) models.Subject {
	return models.Subject{
		ID:          id,
		DisplayName: name,
		Profile:     models.Profile{Tagline: "Test subject"},
	}
}

func TestEvaluate_FullPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := testSubject("acme-labs", "Acme Labs")

	result, err := f.orch.Evaluate(ctx, subject, Options{})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 5, result.TotalScore)
	assert.Equal(t, config.RecommendationStrong, result.Recommendation)
	assert.Equal(t, "Scripted partnership brief.", result.Narrative)

	// One call for research, two per dimension, one for synthesis.
	assert.Equal(t, int64(1+2*6+1), f.provider.calls.Load())

	judgments, err := f.store.ListJudgments(ctx, subject.ID)
	require.NoError(t, err)
	require.Len(t, judgments, 6)
	for i, j := range judgments {
		assert.Equal(t, i+1, j.DimensionID)
		assert.False(t, j.Degraded())
	}
	assert.Equal(t, 0, judgments[2].Score)

	// Export record written alongside.
	data, err := os.ReadFile(filepath.Join(f.cfg.ExportDir, "acme-labs_analysis.json"))
	require.NoError(t, err)

	var rec models.ExportRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "acme-labs", rec.Subject.ID)
	require.NotNil(t, rec.Synthesis)
	assert.Equal(t, 5, rec.Synthesis.TotalScore)
	assert.Len(t, rec.Judgments, 6)
	require.NotNil(t, rec.Research)
	assert.Contains(t, rec.Research.Body, "Scripted general research")
}

func TestEvaluate_FreshResultShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := testSubject("acme-labs", "Acme Labs")

	first, err := f.orch.Evaluate(ctx, subject, Options{})
	require.NoError(t, err)
	callsAfterFirst := f.provider.calls.Load()

	second, err := f.orch.Evaluate(ctx, subject, Options{})
	require.NoError(t, err)
	assert.Equal(t, first.TotalScore, second.TotalScore)
	assert.Equal(t, callsAfterFirst, f.provider.calls.Load(), "fresh result must cost zero calls")

	n, err := f.tracker.CountRecords(ctx, f.tracker.SessionID(), "research_agent")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEvaluate_ForceRefreshRecomputes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := testSubject("acme-labs", "Acme Labs")

	_, err := f.orch.Evaluate(ctx, subject, Options{})
	require.NoError(t, err)
	callsAfterFirst := f.provider.calls.Load()

	result, err := f.orch.Evaluate(ctx, subject, Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalScore)

	// Cache was cleared first, so the full pipeline ran again.
	assert.Equal(t, 2*callsAfterFirst, f.provider.calls.Load())
}

func TestEvaluate_ResearchOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := testSubject("acme-labs", "Acme Labs")

	result, err := f.orch.Evaluate(ctx, subject, Options{ResearchOnly: true})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, int64(1), f.provider.calls.Load())

	_, err = f.store.GetResearch(ctx, subject.ID)
	require.NoError(t, err)

	judgments, err := f.store.ListJudgments(ctx, subject.ID)
	require.NoError(t, err)
	assert.Empty(t, judgments)
}

func TestEvaluate_SkipSynthesis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := testSubject("acme-labs", "Acme Labs")

	result, err := f.orch.Evaluate(ctx, subject, Options{SkipSynthesis: true})
	require.NoError(t, err)
	assert.Nil(t, result)

	judgments, err := f.store.ListJudgments(ctx, subject.ID)
	require.NoError(t, err)
	assert.Len(t, judgments, 6)

	_, err = f.store.GetSynthesis(ctx, subject.ID)
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestEvaluateBatch(t *testing.T) {
	f := newFixture(t)

	subjects := []models.Subject{
		testSubject("acme-labs", "Acme Labs"),
		testSubject("other-corp", "Other Corp"),
	}

	succeeded, err := f.orch.EvaluateBatch(context.Background(), subjects, Options{}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, succeeded)

	for _, s := range subjects {
		result, err := f.store.GetSynthesis(context.Background(), s.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, result.TotalScore)
	}
}

func TestBuildExport_PartialState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := testSubject("acme-labs", "Acme Labs")

	// Nothing persisted yet: all stages absent, no error.
	rec, err := f.orch.BuildExport(ctx, subject)
	require.NoError(t, err)
	assert.Nil(t, rec.Research)
	assert.Empty(t, rec.Judgments)
	assert.Nil(t, rec.Synthesis)

	_, err = f.orch.Evaluate(ctx, subject, Options{ResearchOnly: true})
	require.NoError(t, err)

	rec, err = f.orch.BuildExport(ctx, subject)
	require.NoError(t, err)
	assert.NotNil(t, rec.Research)
	assert.Nil(t, rec.Synthesis)
}

func TestExportStats(t *testing.T) {
	records := []models.ExportRecord{
		{Synthesis: &models.SynthesisResult{TotalScore: 5}},
		{Synthesis: &models.SynthesisResult{TotalScore: -2}},
		{Synthesis: &models.SynthesisResult{TotalScore: 0}},
		{}, // never reached synthesis, excluded
	}

	stats := ExportStats(records)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, -2, stats.MinScore)
	assert.Equal(t, 5, stats.MaxScore)
	assert.InDelta(t, 1.0, stats.AvgScore, 1e-9)
}

func TestExportStats_Empty(t *testing.T) {
	stats := ExportStats(nil)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.AvgScore)
}
