// Package executor runs the per-dimension agent tasks on a bounded
// worker pool. All tasks share one shape: a dimension ID plus a closure
// producing that dimension's judgment. The batch never fails as a whole;
// a task that times out or errors yields a degraded judgment. The
// returned list is always sorted by dimension ID, so completion order
// cannot leak into synthesis prompts or rendering.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiss/near-catalyst/pkg/models"
)

// Task is one dimension evaluation closure.
type Task struct {
	DimensionID int
	Run         func(ctx context.Context) (models.DimensionJudgment, error)
}

// Executor is the fixed-size dimension worker pool.
type Executor struct {
	// maxWorkers caps concurrent tasks; defaults to the task count so a
	// standard six-dimension batch runs fully parallel.
	maxWorkers int

	// taskTimeout bounds each individual task. A timeout cancels only
	// that task's outstanding call; other in-flight tasks are unaffected.
	taskTimeout time.Duration
}

// New creates an executor. maxWorkers < 1 means "one worker per task".
func New(maxWorkers int, taskTimeout time.Duration) *Executor {
	return &Executor{maxWorkers: maxWorkers, taskTimeout: taskTimeout}
}

// Run dispatches all tasks to the pool and blocks until every task has
// completed or individually timed out. The result list contains exactly
// one judgment per task, sorted by dimension ID.
func (e *Executor) Run(ctx context.Context, subjectID string, tasks []Task) []models.DimensionJudgment {
	if len(tasks) == 0 {
		return nil
	}

	workers := e.maxWorkers
	if workers < 1 || workers > len(tasks) {
		workers = len(tasks)
	}

	log := slog.With("subject", subjectID, "tasks", len(tasks), "workers", workers)
	log.Info("Dispatching dimension tasks")
	start := time.Now()

	jobs := make(chan Task)
	results := make(chan models.DimensionJudgment, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				results <- e.runOne(ctx, subjectID, task)
			}
		}()
	}

	for _, task := range tasks {
		jobs <- task
	}
	close(jobs)
	wg.Wait()
	close(results)

	judgments := make([]models.DimensionJudgment, 0, len(tasks))
	for j := range results {
		judgments = append(judgments, j)
	}

	// Completion order must never reach the caller.
	sort.Slice(judgments, func(i, k int) bool {
		return judgments[i].DimensionID < judgments[k].DimensionID
	})

	log.Info("All dimension tasks finished", "elapsed", time.Since(start))
	return judgments
}

// runOne executes a single task under its own timeout and converts any
// failure into a degraded judgment instead of dropping the dimension.
func (e *Executor) runOne(ctx context.Context, subjectID string, task Task) models.DimensionJudgment {
	taskCtx := ctx
	if e.taskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, e.taskTimeout)
		defer cancel()
	}

	judgment, err := task.Run(taskCtx)
	if err == nil {
		return judgment
	}

	marker := fmt.Sprintf("analysis failed: %v", err)
	if errors.Is(err, context.DeadlineExceeded) {
		marker = fmt.Sprintf("analysis timed out for dimension %d", task.DimensionID)
	}
	slog.Warn("Dimension task degraded",
		"subject", subjectID, "dimension", task.DimensionID, "error", err)

	return models.DimensionJudgment{
		SubjectID:   subjectID,
		DimensionID: task.DimensionID,
		Score:       0,
		Confidence:  models.ConfidenceLow,
		Rationale:   marker,
		Err:         marker,
		CreatedAt:   time.Now().UTC(),
	}
}
