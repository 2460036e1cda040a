package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shaiss/near-catalyst/pkg/database"
	"github.com/shaiss/near-catalyst/pkg/models"
)

// BuildExport assembles the full export record for one subject from the
// store: research artifact, ordered judgments, and synthesis result.
// Missing stages are omitted rather than treated as errors, since partial
// runs persist partial state.
func (o *Orchestrator) BuildExport(ctx context.Context, subject models.Subject) (*models.ExportRecord, error) {
	rec := &models.ExportRecord{
		Subject:    subject,
		ExportedAt: time.Now().UTC(),
	}

	research, err := o.store.GetResearch(ctx, subject.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to load research for export: %w", err)
	}
	rec.Research = research

	judgments, err := o.store.ListJudgments(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load judgments for export: %w", err)
	}
	rec.Judgments = judgments

	synthesis, err := o.store.GetSynthesis(ctx, subject.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to load synthesis for export: %w", err)
	}
	rec.Synthesis = synthesis

	return rec, nil
}

// Export writes the subject's JSON export record into the configured
// export directory, one file per subject.
func (o *Orchestrator) Export(ctx context.Context, subject models.Subject) error {
	rec, err := o.BuildExport(ctx, subject)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export record: %w", err)
	}

	if err := os.MkdirAll(o.cfg.ExportDir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(o.cfg.ExportDir, fmt.Sprintf("%s_analysis.json", subject.ID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}

	slog.Info("Exported record", "subject", subject.ID, "path", path)
	return nil
}

// Stats summarizes total scores across export records.
type Stats struct {
	Total    int     `json:"total_subjects"`
	MinScore int     `json:"min_score"`
	MaxScore int     `json:"max_score"`
	AvgScore float64 `json:"avg_score"`
}

// ExportStats computes score statistics over records that reached
// synthesis.
func ExportStats(records []models.ExportRecord) Stats {
	var s Stats
	sum := 0
	for _, rec := range records {
		if rec.Synthesis == nil {
			continue
		}
		score := rec.Synthesis.TotalScore
		if s.Total == 0 || score < s.MinScore {
			s.MinScore = score
		}
		if s.Total == 0 || score > s.MaxScore {
			s.MaxScore = score
		}
		sum += score
		s.Total++
	}
	if s.Total > 0 {
		s.AvgScore = float64(sum) / float64(s.Total)
	}
	return s
}
