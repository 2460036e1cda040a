// Catalyst evaluation pipeline: fetches subjects from the catalog, runs
// the multi-agent evaluation over each, and exports one JSON record per
// subject.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/shaiss/near-catalyst/pkg/cache"
	"github.com/shaiss/near-catalyst/pkg/catalog"
	"github.com/shaiss/near-catalyst/pkg/config"
	"github.com/shaiss/near-catalyst/pkg/database"
	"github.com/shaiss/near-catalyst/pkg/llm"
	"github.com/shaiss/near-catalyst/pkg/models"
	"github.com/shaiss/near-catalyst/pkg/orchestrator"
	"github.com/shaiss/near-catalyst/pkg/usage"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to optional YAML config file")
		limit         = flag.Int("limit", 0, "Evaluate at most N subjects (0 = unlimited)")
		subjects      = flag.String("subjects", "", "Comma-separated subject IDs (default: full catalog list)")
		forceRefresh  = flag.Bool("force-refresh", false, "Ignore freshness checks and recompute")
		researchOnly  = flag.Bool("research-only", false, "Run only the research stage")
		questionsOnly = flag.Bool("questions-only", false, "Run research and dimensions, skip synthesis")
		clearCache    = flag.String("clear-cache", "", "Clear cache entries for the named subject and exit")
		clearCacheAll = flag.Bool("clear-cache-all", false, "Clear all cache entries and exit")
		concurrency   = flag.Int("concurrency", 2, "Concurrent subject evaluations")
		dbPath        = flag.String("db", "", "Override SQLite database path")
		exportDir     = flag.String("export-dir", "", "Override JSON export directory")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *exportDir != "" {
		cfg.ExportDir = *exportDir
	}

	ctx := context.Background()

	store, err := database.NewStore(ctx, databaseConfig(cfg))
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()

	fpCache := cache.New(store, cfg.FreshnessWindow)

	if *clearCacheAll {
		removed, err := fpCache.ClearAll(ctx)
		if err != nil {
			slog.Error("Failed to clear cache", "error", err)
			os.Exit(1)
		}
		slog.Info("Cleared all cache entries", "entries", removed)
		return
	}
	if *clearCache != "" {
		removed, err := fpCache.ClearSubject(ctx, *clearCache)
		if err != nil {
			slog.Error("Failed to clear subject cache", "subject", *clearCache, "error", err)
			os.Exit(1)
		}
		slog.Info("Cleared subject cache", "subject", *clearCache, "entries", removed)
		return
	}

	provider, err := llm.NewOpenAIProvider()
	if err != nil {
		slog.Error("Failed to initialize completion provider", "error", err)
		os.Exit(1)
	}

	pricing := llm.NewLivePricingTable(10 * time.Second)
	tracker := usage.NewTracker(provider, pricing, store)
	slog.Info("Session started", "session_id", tracker.SessionID())

	catalogClient := catalog.NewClient(cfg.CatalogBaseURL)
	targets, err := resolveSubjects(ctx, catalogClient, *subjects, *limit)
	if err != nil {
		slog.Error("Failed to resolve subjects", "error", err)
		os.Exit(1)
	}
	slog.Info("Evaluating subjects", "count", len(targets))

	orch := orchestrator.New(cfg, store, fpCache, tracker)
	opts := orchestrator.Options{
		ForceRefresh:  *forceRefresh,
		ResearchOnly:  *researchOnly,
		SkipSynthesis: *questionsOnly,
	}

	succeeded, err := orch.EvaluateBatch(ctx, targets, opts, *concurrency)
	if err != nil {
		slog.Error("Batch evaluation aborted", "error", err)
		os.Exit(1)
	}
	slog.Info("Batch completed", "succeeded", succeeded, "total", len(targets))

	summary, err := tracker.SessionSummary(ctx, tracker.SessionID())
	if err != nil {
		slog.Warn("Failed to compute session summary", "error", err)
		return
	}
	slog.Info("Session usage",
		"calls", summary.TotalCalls,
		"successful", summary.SuccessfulCalls,
		"tokens", summary.TotalTokens,
		"cost_usd", summary.TotalCost,
		"avg_elapsed_ms", summary.AvgElapsedMs)
	for _, a := range summary.ByAgent {
		slog.Info("Agent usage", "agent", a.AgentName, "calls", a.Calls, "tokens", a.Tokens, "cost_usd", a.Cost)
	}
	for _, m := range summary.ByModel {
		slog.Info("Model usage", "model", m.Model, "calls", m.Calls, "tokens", m.Tokens, "cost_usd", m.Cost)
	}
}

func databaseConfig(cfg *config.Config) database.Config {
	dbCfg := database.DefaultConfig(cfg.DatabasePath)
	dbCfg.Retry = database.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.Backoff,
	}
	return dbCfg
}

// resolveSubjects fetches the explicit subject list, or the catalog's
// full list capped at limit.
func resolveSubjects(ctx context.Context, client *catalog.Client, explicit string, limit int) ([]models.Subject, error) {
	var ids []string
	if explicit != "" {
		for _, id := range strings.Split(explicit, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	} else {
		listed, err := client.List(ctx, limit)
		if err != nil {
			return nil, err
		}
		ids = listed
	}

	subjects := make([]models.Subject, 0, len(ids))
	for _, id := range ids {
		subject, err := client.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, *subject)
	}
	return subjects, nil
}
