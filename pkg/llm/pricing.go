package llm

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// pricingURL is the community-maintained model price table. Fetched once
// per process; the fallback table covers the models we route to.
const pricingURL = "https://raw.githubusercontent.com/BerriAI/litellm/refs/heads/main/model_prices_and_context_window.json"

// ModelPricing holds the per-token rates for one model.
type ModelPricing struct {
	InputCostPerToken  float64 `json:"input_cost_per_token"`
	OutputCostPerToken float64 `json:"output_cost_per_token"`
}

// PricingTable maps model identifiers to per-token rates. Safe for
// concurrent readers after construction.
type PricingTable struct {
	mu     sync.RWMutex
	models map[string]ModelPricing
}

// fallbackPricing is used when the live table cannot be fetched.
func fallbackPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		"gpt-4.1":  {InputCostPerToken: 0.00001, OutputCostPerToken: 0.00003},
		"o3":       {InputCostPerToken: 0.00006, OutputCostPerToken: 0.00024},
		"o4-mini":  {InputCostPerToken: 0.000015, OutputCostPerToken: 0.00006},
		"gpt-4o":   {InputCostPerToken: 0.0000025, OutputCostPerToken: 0.00001},
		"_default": {InputCostPerToken: 0.00001, OutputCostPerToken: 0.00003},
	}
}

// NewPricingTable builds a table from the fallback rates.
func NewPricingTable() *PricingTable {
	return &PricingTable{models: fallbackPricing()}
}

// NewLivePricingTable attempts to fetch current rates, falling back to the
// built-in table on any failure.
func NewLivePricingTable(httpTimeout time.Duration) *PricingTable {
	t := NewPricingTable()

	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Get(pricingURL)
	if err != nil {
		slog.Warn("Failed to fetch live pricing data, using fallback table", "error", err)
		return t
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Pricing endpoint returned non-OK status, using fallback table", "status", resp.StatusCode)
		return t
	}

	var live map[string]ModelPricing
	if err := json.NewDecoder(resp.Body).Decode(&live); err != nil {
		slog.Warn("Failed to decode live pricing data, using fallback table", "error", err)
		return t
	}

	t.mu.Lock()
	for model, pricing := range live {
		if pricing.InputCostPerToken > 0 || pricing.OutputCostPerToken > 0 {
			t.models[model] = pricing
		}
	}
	t.mu.Unlock()

	slog.Info("Loaded live pricing data", "models", len(live))
	return t
}

// Lookup returns the rates for a model, falling back to the default rate
// for unknown identifiers.
func (t *PricingTable) Lookup(model string) ModelPricing {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.models[model]; ok {
		return p
	}
	return t.models["_default"]
}

// Cost computes the dollar cost of one call.
func (t *PricingTable) Cost(model string, usage Usage) float64 {
	p := t.Lookup(model)
	return float64(usage.InputTokens)*p.InputCostPerToken +
		float64(usage.OutputTokens)*p.OutputCostPerToken
}
