package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shaiss/near-catalyst/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// timeFormat is the canonical timestamp encoding for every table.
// RFC 3339 in UTC compares lexically, which keeps index scans simple.
const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// SaveResearch persists a research artifact, superseding any prior run's
// artifact for the same subject.
func (s *Store) SaveResearch(ctx context.Context, a *models.ResearchArtifact) error {
	sources, err := json.Marshal(a.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	return s.Execute(ctx,
		`INSERT INTO research_artifact (subject_id, body, sources_json, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET
		   body = excluded.body,
		   sources_json = excluded.sources_json,
		   created_at = excluded.created_at`,
		a.SubjectID, a.Body, string(sources), formatTime(a.CreatedAt))
}

// GetResearch loads the current research artifact for a subject.
func (s *Store) GetResearch(ctx context.Context, subjectID string) (*models.ResearchArtifact, error) {
	var (
		a         models.ResearchArtifact
		sources   string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_id, body, sources_json, created_at
		 FROM research_artifact WHERE subject_id = ?`, subjectID).
		Scan(&a.SubjectID, &a.Body, &sources, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query research artifact: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &a.Sources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveJudgment persists one dimension judgment. Concurrent workers write
// disjoint (subject, dimension) rows; contention on the shared write lock
// is absorbed by the retry policy.
func (s *Store) SaveJudgment(ctx context.Context, j *models.DimensionJudgment) error {
	sources, err := json.Marshal(j.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	return s.Execute(ctx,
		`INSERT INTO dimension_judgment
		   (subject_id, dimension_id, score, confidence, rationale, research, sources_json, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject_id, dimension_id) DO UPDATE SET
		   score = excluded.score,
		   confidence = excluded.confidence,
		   rationale = excluded.rationale,
		   research = excluded.research,
		   sources_json = excluded.sources_json,
		   error = excluded.error,
		   created_at = excluded.created_at`,
		j.SubjectID, j.DimensionID, j.Score, string(j.Confidence),
		j.Rationale, j.Research, string(sources), j.Err, formatTime(j.CreatedAt))
}

// ListJudgments returns all judgments for a subject ordered by dimension.
func (s *Store) ListJudgments(ctx context.Context, subjectID string) ([]models.DimensionJudgment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject_id, dimension_id, score, confidence, rationale, research, sources_json, error, created_at
		 FROM dimension_judgment WHERE subject_id = ?
		 ORDER BY dimension_id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query judgments: %w", err)
	}
	defer rows.Close()

	var out []models.DimensionJudgment
	for rows.Next() {
		var (
			j         models.DimensionJudgment
			conf      string
			sources   string
			createdAt string
		)
		if err := rows.Scan(&j.SubjectID, &j.DimensionID, &j.Score, &conf,
			&j.Rationale, &j.Research, &sources, &j.Err, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan judgment: %w", err)
		}
		j.Confidence = models.Confidence(conf)
		if err := json.Unmarshal([]byte(sources), &j.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
		if j.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SaveSynthesis persists the final synthesis result for a subject.
func (s *Store) SaveSynthesis(ctx context.Context, r *models.SynthesisResult) error {
	return s.Execute(ctx,
		`INSERT INTO synthesis_result (subject_id, total_score, recommendation, narrative, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET
		   total_score = excluded.total_score,
		   recommendation = excluded.recommendation,
		   narrative = excluded.narrative,
		   created_at = excluded.created_at`,
		r.SubjectID, r.TotalScore, r.Recommendation, r.Narrative, formatTime(r.CreatedAt))
}

// GetSynthesis loads the synthesis result for a subject.
func (s *Store) GetSynthesis(ctx context.Context, subjectID string) (*models.SynthesisResult, error) {
	var (
		r         models.SynthesisResult
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_id, total_score, recommendation, narrative, created_at
		 FROM synthesis_result WHERE subject_id = ?`, subjectID).
		Scan(&r.SubjectID, &r.TotalScore, &r.Recommendation, &r.Narrative, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query synthesis result: %w", err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}
