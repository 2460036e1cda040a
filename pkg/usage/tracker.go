// Package usage wraps every completion-provider call with cost and
// latency accounting. The ledger is append-only: exactly one UsageRecord
// is written per call, success or failure, through the store's atomic
// insert path, so concurrent workers never lose or double-count records.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiss/near-catalyst/pkg/database"
	"github.com/shaiss/near-catalyst/pkg/llm"
	"github.com/shaiss/near-catalyst/pkg/models"
)

// Tracker records usage for one evaluation session. Safe for concurrent
// use by executor workers.
type Tracker struct {
	provider  llm.CompletionProvider
	pricing   *llm.PricingTable
	store     *database.Store
	sessionID string
}

// NewTracker creates a tracker with a fresh session identifier.
func NewTracker(provider llm.CompletionProvider, pricing *llm.PricingTable, store *database.Store) *Tracker {
	return &Tracker{
		provider:  provider,
		pricing:   pricing,
		store:     store,
		sessionID: fmt.Sprintf("session_%s_%s", time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8]),
	}
}

// SessionID returns the session identifier records are keyed by.
func (t *Tracker) SessionID() string { return t.sessionID }

// Call invokes the provider and appends one UsageRecord regardless of
// outcome. Failed calls are recorded with zero cost; the provider error
// is returned unchanged for the caller's own handling.
func (t *Tracker) Call(ctx context.Context, agentName string, req llm.Request) (*llm.Response, error) {
	start := time.Now()
	resp, err := t.provider.Complete(ctx, req)
	elapsed := time.Since(start)

	rec := models.UsageRecord{
		SessionID: t.sessionID,
		AgentName: agentName,
		Model:     req.Model,
		Elapsed:   elapsed,
		Success:   err == nil,
		CreatedAt: time.Now().UTC(),
	}
	if err == nil {
		rec.InputTokens = resp.Usage.InputTokens
		rec.OutputTokens = resp.Usage.OutputTokens
		rec.Cost = t.pricing.Cost(req.Model, resp.Usage)
	}

	if appendErr := t.append(ctx, rec); appendErr != nil {
		// The ledger is best-effort relative to the pipeline: a failed
		// append must not turn a successful model call into a run failure.
		slog.Error("Failed to append usage record",
			"session_id", t.sessionID, "agent", agentName, "error", appendErr)
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *Tracker) append(ctx context.Context, rec models.UsageRecord) error {
	return t.store.Execute(ctx,
		`INSERT INTO usage_record
		   (session_id, agent_name, model, input_tokens, output_tokens, cost, elapsed_ms, success, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.AgentName, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.Cost,
		rec.Elapsed.Milliseconds(), rec.Success,
		rec.CreatedAt.Format(time.RFC3339Nano))
}

// AgentUsage is the per-agent aggregate of a session.
type AgentUsage struct {
	AgentName string  `json:"agent_name"`
	Calls     int     `json:"calls"`
	Tokens    int     `json:"tokens"`
	Cost      float64 `json:"cost"`
}

// ModelUsage is the per-model aggregate of a session.
type ModelUsage struct {
	Model  string  `json:"model"`
	Calls  int     `json:"calls"`
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// Summary aggregates a session's ledger.
type Summary struct {
	SessionID       string       `json:"session_id"`
	TotalCalls      int          `json:"total_calls"`
	SuccessfulCalls int          `json:"successful_calls"`
	TotalTokens     int          `json:"total_tokens"`
	TotalCost       float64      `json:"total_cost"`
	AvgElapsedMs    float64      `json:"avg_elapsed_ms"`
	ByAgent         []AgentUsage `json:"by_agent"`
	ByModel         []ModelUsage `json:"by_model"`
}

// SessionSummary aggregates the ledger for one session, broken down by
// agent and by model.
func (t *Tracker) SessionSummary(ctx context.Context, sessionID string) (*Summary, error) {
	db := t.store.DB()
	s := &Summary{SessionID: sessionID}

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(success), 0),
		        COALESCE(SUM(input_tokens + output_tokens), 0),
		        COALESCE(SUM(cost), 0),
		        COALESCE(AVG(elapsed_ms), 0)
		 FROM usage_record WHERE session_id = ?`, sessionID).
		Scan(&s.TotalCalls, &s.SuccessfulCalls, &s.TotalTokens, &s.TotalCost, &s.AvgElapsedMs)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate session usage: %w", err)
	}

	agentRows, err := db.QueryContext(ctx,
		`SELECT agent_name, COUNT(*), SUM(input_tokens + output_tokens), SUM(cost)
		 FROM usage_record WHERE session_id = ?
		 GROUP BY agent_name ORDER BY agent_name`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate agent usage: %w", err)
	}
	defer agentRows.Close()
	for agentRows.Next() {
		var a AgentUsage
		if err := agentRows.Scan(&a.AgentName, &a.Calls, &a.Tokens, &a.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan agent usage: %w", err)
		}
		s.ByAgent = append(s.ByAgent, a)
	}
	if err := agentRows.Err(); err != nil {
		return nil, err
	}

	modelRows, err := db.QueryContext(ctx,
		`SELECT model, COUNT(*), SUM(input_tokens + output_tokens), SUM(cost)
		 FROM usage_record WHERE session_id = ?
		 GROUP BY model ORDER BY model`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate model usage: %w", err)
	}
	defer modelRows.Close()
	for modelRows.Next() {
		var m ModelUsage
		if err := modelRows.Scan(&m.Model, &m.Calls, &m.Tokens, &m.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan model usage: %w", err)
		}
		s.ByModel = append(s.ByModel, m)
	}
	return s, modelRows.Err()
}

// CountRecords returns the number of ledger rows for a session and agent.
// Used by callers verifying that cache hits issue no model calls.
func (t *Tracker) CountRecords(ctx context.Context, sessionID, agentName string) (int, error) {
	var n int
	err := t.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_record WHERE session_id = ? AND agent_name = ?`,
		sessionID, agentName).Scan(&n)
	return n, err
}
