// Package agent provides the stateless evaluation agents: research,
// per-dimension judgment, and synthesis. Agents hold no mutable state;
// every dependency (provider-backed tracker, fingerprint cache, store,
// configuration) arrives explicitly so tests can substitute fakes.
package agent

import (
	"github.com/shaiss/near-catalyst/pkg/cache"
	"github.com/shaiss/near-catalyst/pkg/config"
	"github.com/shaiss/near-catalyst/pkg/database"
	"github.com/shaiss/near-catalyst/pkg/usage"
)

// Deps bundles the collaborators every agent needs. No globals: the
// tracker wraps the completion provider, the cache and store are the two
// independent persistence layers.
type Deps struct {
	Tracker *usage.Tracker
	Cache   *cache.Cache
	Store   *database.Store
	Config  *config.Config
}

// Agent ledger names, used as the agent_name key in usage records.
const (
	NameResearch  = "research_agent"
	NameDimension = "dimension_agent"
	NameSynthesis = "synthesis_agent"
)

// Cache task-key prefixes. Task keys must be stable across runs and
// distinct across dimensions, so they are derived from the dimension key,
// never from run-specific data.
const (
	taskResearch          = "research"
	taskDimensionResearch = "dimension_research:"
	taskDimensionJudgment = "dimension_judgment:"
)
