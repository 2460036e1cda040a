// Package config holds typed configuration for the evaluation pipeline:
// the diagnostic dimension registry, model selection, timeouts, retry and
// freshness policy, and executor limits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Dimension describes one diagnostic axis along which a subject is scored.
// The set is small, closed, and ordered by ID.
type Dimension struct {
	ID          int    `yaml:"id"`
	Key         string `yaml:"key"`
	Question    string `yaml:"question"`
	Description string `yaml:"description"`
	SearchFocus string `yaml:"search_focus"`
}

// ModelConfig selects models per agent role.
type ModelConfig struct {
	Research  string `yaml:"research"`
	Dimension string `yaml:"dimension"`
	Synthesis string `yaml:"synthesis"`
}

// TimeoutConfig bounds each agent's completion call.
type TimeoutConfig struct {
	Research  time.Duration `yaml:"research"`
	Dimension time.Duration `yaml:"dimension"`
	Synthesis time.Duration `yaml:"synthesis"`
}

// RetryConfig is the shared write-retry policy for store contention.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int `yaml:"max_attempts"`
	// Backoff is the base delay; attempt N waits N × Backoff.
	Backoff time.Duration `yaml:"backoff"`
}

// ExecutorConfig bounds the dimension worker pool.
type ExecutorConfig struct {
	// MaxWorkers caps concurrent dimension tasks to protect the upstream
	// provider from burst load. Defaults to the dimension count.
	MaxWorkers int `yaml:"max_workers"`
}

// Thresholds maps the summed score to a recommendation tier.
type Thresholds struct {
	// StrongCandidate is the minimum total score for the top tier.
	StrongCandidate int `yaml:"strong_candidate"`
	// MixedFit is the minimum total score for the middle tier; anything
	// below it is declined.
	MixedFit int `yaml:"mixed_fit"`
}

// Config is the root configuration.
type Config struct {
	Dimensions []Dimension    `yaml:"dimensions"`
	Models     ModelConfig    `yaml:"models"`
	Timeouts   TimeoutConfig  `yaml:"timeouts"`
	Retry      RetryConfig    `yaml:"retry"`
	Executor   ExecutorConfig `yaml:"executor"`
	Thresholds Thresholds     `yaml:"thresholds"`

	// FreshnessWindow is the maximum age of a cached or persisted result
	// before it is recomputed. It governs both the run-level short-circuit
	// and the task-level fingerprint cache; the two layers check it
	// independently.
	FreshnessWindow time.Duration `yaml:"freshness_window"`

	// DatabasePath is the SQLite file path.
	DatabasePath string `yaml:"database_path"`

	// ExportDir is where per-subject JSON export records are written.
	ExportDir string `yaml:"export_dir"`

	// CatalogBaseURL is the subject metadata provider endpoint.
	CatalogBaseURL string `yaml:"catalog_base_url"`
}

// Recommendation strings per tier.
const (
	RecommendationStrong  = "Strong candidate; explore MoU/co-marketing"
	RecommendationMixed   = "Mixed; negotiate scope"
	RecommendationDecline = "Decline or redesign the collaboration"
)

// DefaultDimensions returns the built-in six diagnostic dimensions.
func DefaultDimensions() []Dimension {
	return []Dimension{
		{ID: 1, Key: "gap_filler", Question: "Gap-Filler?",
			Description: "Does the partner fill a technology gap the ecosystem lacks?",
			SearchFocus: "technical capabilities, infrastructure, services not provided natively"},
		{ID: 2, Key: "new_proof_points", Question: "New Proof-Points?",
			Description: "Does it enable new use cases/demos?",
			SearchFocus: "use cases, applications, demos, innovative implementations"},
		{ID: 3, Key: "clear_story", Question: "One-Sentence Story?",
			Description: "Is there a clear value proposition?",
			SearchFocus: "value proposition, messaging, developer experience, integration benefits"},
		{ID: 4, Key: "developer_friendly", Question: "Developer-Friendly?",
			Description: "Easy integration and learning curve?",
			SearchFocus: "documentation, APIs, SDKs, developer tools, integration guides, tutorials"},
		{ID: 5, Key: "aligned_incentives", Question: "Aligned Incentives?",
			Description: "Mutual benefit and non-competitive?",
			SearchFocus: "business model, partnerships, competition analysis, ecosystem positioning"},
		{ID: 6, Key: "ecosystem_fit", Question: "Ecosystem Fit?",
			Description: "Does it match the ecosystem's target audience?",
			SearchFocus: "target audience, developer community, overlapping use cases"},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	dims := DefaultDimensions()
	return &Config{
		Dimensions: dims,
		Models: ModelConfig{
			Research:  "gpt-4.1",
			Dimension: "gpt-4.1",
			Synthesis: "gpt-4.1",
		},
		Timeouts: TimeoutConfig{
			Research:  120 * time.Second,
			Dimension: 180 * time.Second,
			Synthesis: 90 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Backoff:     100 * time.Millisecond,
		},
		Executor: ExecutorConfig{
			MaxWorkers: len(dims),
		},
		Thresholds: Thresholds{
			StrongCandidate: 4,
			MixedFit:        0,
		},
		FreshnessWindow: 24 * time.Hour,
		DatabasePath:    "catalyst.db",
		ExportDir:       ".",
		CatalogBaseURL:  "https://api.nearcatalog.org",
	}
}

// Load returns the default configuration overlaid with an optional YAML
// file and environment overrides. An empty path skips the file overlay.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("CATALYST_DB_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("CATALYST_EXPORT_DIR"); v != "" {
		c.ExportDir = v
	}
	if v := os.Getenv("CATALYST_CATALOG_URL"); v != "" {
		c.CatalogBaseURL = v
	}
	if v := os.Getenv("CATALYST_MODEL"); v != "" {
		c.Models = ModelConfig{Research: v, Dimension: v, Synthesis: v}
	}
	if v := os.Getenv("CATALYST_FRESHNESS_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			c.FreshnessWindow = time.Duration(hours) * time.Hour
		}
	}
	if v := os.Getenv("CATALYST_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Executor.MaxWorkers = n
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if len(c.Dimensions) == 0 {
		return fmt.Errorf("at least one dimension is required")
	}
	seen := make(map[int]bool, len(c.Dimensions))
	for _, d := range c.Dimensions {
		if d.ID <= 0 {
			return fmt.Errorf("dimension %q: id must be positive, got %d", d.Key, d.ID)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate dimension id %d", d.ID)
		}
		seen[d.ID] = true
		if d.Key == "" {
			return fmt.Errorf("dimension %d: key must not be empty", d.ID)
		}
	}
	if c.Executor.MaxWorkers < 1 || c.Executor.MaxWorkers > 50 {
		return fmt.Errorf("executor max_workers must be between 1 and 50, got %d", c.Executor.MaxWorkers)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Backoff <= 0 {
		return fmt.Errorf("retry backoff must be positive, got %s", c.Retry.Backoff)
	}
	if c.FreshnessWindow <= 0 {
		return fmt.Errorf("freshness_window must be positive, got %s", c.FreshnessWindow)
	}
	if c.Thresholds.StrongCandidate <= c.Thresholds.MixedFit {
		return fmt.Errorf("thresholds: strong_candidate (%d) must exceed mixed_fit (%d)",
			c.Thresholds.StrongCandidate, c.Thresholds.MixedFit)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	return nil
}

// Recommendation maps a total score to its recommendation tier string.
func (c *Config) Recommendation(totalScore int) string {
	switch {
	case totalScore >= c.Thresholds.StrongCandidate:
		return RecommendationStrong
	case totalScore >= c.Thresholds.MixedFit:
		return RecommendationMixed
	default:
		return RecommendationDecline
	}
}
