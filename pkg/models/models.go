// Package models defines the domain types shared across the evaluation
// pipeline: subjects, research artifacts, dimension judgments, synthesis
// results, and usage records.
package models

import "time"

// Subject is the entity under evaluation. Immutable for the duration of
// one evaluation run.
type Subject struct {
	// ID is the stable catalog identifier (slug).
	ID string `json:"id"`
	// DisplayName is the human-readable name. Cache fingerprints are
	// derived from the normalized display name, not the raw ID, because
	// two distinct IDs can resolve to the same display entity.
	DisplayName string `json:"display_name"`
	Profile     Profile `json:"profile"`
}

// Profile is the free-form metadata supplied by the upstream catalog.
type Profile struct {
	Tagline     string   `json:"tagline,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Phase       string   `json:"phase,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Stage       string   `json:"stage,omitempty"`
	TechStack   string   `json:"tech_stack,omitempty"`
	Website     string   `json:"website,omitempty"`
	GitHub      string   `json:"github,omitempty"`
	Docs        string   `json:"documentation,omitempty"`
}

// Source is a provenance reference attached to a research artifact.
// StartIndex/EndIndex are character offsets into the artifact body.
type Source struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

// ResearchArtifact is the output of the research agent: free-text body
// plus ordered source citations. Never mutated after creation, only
// superseded by a newer run.
type ResearchArtifact struct {
	SubjectID string    `json:"subject_id"`
	Body      string    `json:"body"`
	Sources   []Source  `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
}

// Confidence is the closed confidence enum for dimension judgments.
type Confidence string

const (
	ConfidenceLow    Confidence = "Low"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceHigh   Confidence = "High"
)

// Valid reports whether c is one of the three allowed labels.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// Score bounds for a single dimension judgment.
const (
	ScoreMin = -1
	ScoreMax = 1
)

// DimensionJudgment is the scored outcome of one diagnostic dimension.
// Exactly one judgment exists per dimension per run, even under failure:
// a timed-out or failed dimension produces a degraded judgment (score 0,
// confidence Low, error marker) rather than an absence.
type DimensionJudgment struct {
	SubjectID   string     `json:"subject_id"`
	DimensionID int        `json:"dimension_id"`
	Score       int        `json:"score"`
	Confidence  Confidence `json:"confidence"`
	Rationale   string     `json:"rationale"`
	Research    string     `json:"research,omitempty"`
	Sources     []Source   `json:"sources,omitempty"`
	Cached      bool       `json:"cached"`
	Err         string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Degraded reports whether the judgment carries an error marker.
func (j DimensionJudgment) Degraded() bool { return j.Err != "" }

// SynthesisResult is the final aggregation of one run: summed dimension
// scores, the threshold-derived recommendation, and the synthesis
// narrative.
type SynthesisResult struct {
	SubjectID      string    `json:"subject_id"`
	TotalScore     int       `json:"total_score"`
	Recommendation string    `json:"recommendation"`
	Narrative      string    `json:"narrative"`
	CreatedAt      time.Time `json:"created_at"`
}

// UsageRecord captures one completion-provider call. Append-only.
type UsageRecord struct {
	SessionID    string        `json:"session_id"`
	AgentName    string        `json:"agent_name"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Cost         float64       `json:"cost"`
	Elapsed      time.Duration `json:"elapsed_ms"`
	Success      bool          `json:"success"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ExportRecord is the one-JSON-record-per-subject artifact consumed by
// the presentation layer.
type ExportRecord struct {
	Subject    Subject             `json:"subject"`
	Research   *ResearchArtifact   `json:"research,omitempty"`
	Judgments  []DimensionJudgment `json:"judgments,omitempty"`
	Synthesis  *SynthesisResult    `json:"synthesis,omitempty"`
	ExportedAt time.Time           `json:"exported_at"`
}
