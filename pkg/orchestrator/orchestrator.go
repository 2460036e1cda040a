// Package orchestrator drives one subject's evaluation end to end:
// run-level freshness check, research, concurrent dimension judgments,
// synthesis, and export. Each stage's output is persisted as soon as the
// stage completes, so a mid-pipeline failure leaves partial, queryable
// state rather than nothing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiss/near-catalyst/pkg/agent"
	"github.com/shaiss/near-catalyst/pkg/cache"
	"github.com/shaiss/near-catalyst/pkg/config"
	"github.com/shaiss/near-catalyst/pkg/database"
	"github.com/shaiss/near-catalyst/pkg/executor"
	"github.com/shaiss/near-catalyst/pkg/models"
	"github.com/shaiss/near-catalyst/pkg/usage"
)

// Options control one evaluation run.
type Options struct {
	// ForceRefresh ignores the run-level freshness check and recomputes
	// everything. The task-level fingerprint cache is cleared for the
	// subject first, so agents cannot serve stale hits either.
	ForceRefresh bool

	// ResearchOnly stops after persisting the research artifact.
	ResearchOnly bool

	// SkipSynthesis stops after persisting the dimension judgments.
	SkipSynthesis bool
}

// Orchestrator sequences the pipeline stages for subjects.
type Orchestrator struct {
	cfg       *config.Config
	store     *database.Store
	cache     *cache.Cache
	tracker   *usage.Tracker
	research  *agent.ResearchAgent
	dimension *agent.DimensionAgent
	synthesis *agent.SynthesisAgent
	exec      *executor.Executor
}

// New wires an orchestrator from its collaborators.
func New(cfg *config.Config, store *database.Store, c *cache.Cache, tracker *usage.Tracker) *Orchestrator {
	deps := agent.Deps{Tracker: tracker, Cache: c, Store: store, Config: cfg}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		cache:     c,
		tracker:   tracker,
		research:  agent.NewResearchAgent(deps),
		dimension: agent.NewDimensionAgent(deps),
		synthesis: agent.NewSynthesisAgent(deps),
		exec:      executor.New(cfg.Executor.MaxWorkers, cfg.Timeouts.Dimension),
	}
}

// Evaluate runs the pipeline for one subject. A fresh existing synthesis
// result short-circuits the run unless ForceRefresh is set; this check is
// independent of the task-level fingerprint cache inside each agent.
// Partial modes (ResearchOnly, SkipSynthesis) return a nil result.
func (o *Orchestrator) Evaluate(ctx context.Context, subject models.Subject, opts Options) (*models.SynthesisResult, error) {
	log := slog.With("subject", subject.ID)

	if !opts.ForceRefresh {
		existing, err := o.store.GetSynthesis(ctx, subject.ID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("failed to check existing result: %w", err)
		}
		if existing != nil && time.Since(existing.CreatedAt) < o.cfg.FreshnessWindow {
			log.Info("Existing result is fresh, skipping",
				"age", time.Since(existing.CreatedAt), "window", o.cfg.FreshnessWindow)
			return existing, nil
		}
	} else {
		if removed, err := o.cache.ClearSubject(ctx, subject.DisplayName); err != nil {
			log.Warn("Failed to clear subject cache for forced refresh", "error", err)
		} else if removed > 0 {
			log.Info("Cleared subject cache for forced refresh", "entries", removed)
		}
	}

	// Stage 1: general research, persisted by the agent.
	research, err := o.research.Run(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("research stage failed: %w", err)
	}
	if opts.ResearchOnly {
		log.Info("Research-only run completed")
		return nil, nil
	}

	// Stage 2: concurrent dimension judgments. The executor guarantees
	// one judgment per dimension, degraded or not, sorted by dimension.
	tasks := make([]executor.Task, len(o.cfg.Dimensions))
	for i, dim := range o.cfg.Dimensions {
		dim := dim
		tasks[i] = executor.Task{
			DimensionID: dim.ID,
			Run: func(taskCtx context.Context) (models.DimensionJudgment, error) {
				return o.dimension.Run(taskCtx, subject, dim, research)
			},
		}
	}
	judgments := o.exec.Run(ctx, subject.ID, tasks)

	// Successful judgments were persisted by their agent; degraded ones
	// come from the executor and still need a row.
	for i := range judgments {
		if judgments[i].Degraded() {
			if err := o.store.SaveJudgment(ctx, &judgments[i]); err != nil {
				return nil, fmt.Errorf("failed to persist degraded judgment %d: %w", judgments[i].DimensionID, err)
			}
		}
	}
	if opts.SkipSynthesis {
		log.Info("Questions-only run completed", "judgments", len(judgments))
		return nil, nil
	}

	// Stage 3: synthesis over the complete judgment set.
	result, err := o.synthesis.Run(ctx, subject, research, judgments)
	if err != nil {
		return nil, fmt.Errorf("synthesis stage failed: %w", err)
	}

	if err := o.Export(ctx, subject); err != nil {
		log.Warn("Failed to export record", "error", err)
	}

	return result, nil
}

// EvaluateBatch evaluates subjects with bounded concurrency. Per-subject
// failures are logged and counted, not propagated: one bad subject must
// not abort the batch.
func (o *Orchestrator) EvaluateBatch(ctx context.Context, subjects []models.Subject, opts Options, concurrency int) (succeeded int, err error) {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		g, gctx = errgroup.WithContext(ctx)
		results = make([]error, len(subjects))
	)
	g.SetLimit(concurrency)

	for i, subject := range subjects {
		i, subject := i, subject
		g.Go(func() error {
			if _, evalErr := o.Evaluate(gctx, subject, opts); evalErr != nil {
				slog.Error("Subject evaluation failed", "subject", subject.ID, "error", evalErr)
				results[i] = evalErr
			}
			return nil
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		return 0, waitErr
	}

	for _, r := range results {
		if r == nil {
			succeeded++
		}
	}
	return succeeded, nil
}
