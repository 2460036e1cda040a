package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPricingTable_Lookup(t *testing.T) {
	table := NewPricingTable()

	known := table.Lookup("gpt-4.1")
	assert.Equal(t, 0.00001, known.InputCostPerToken)
	assert.Equal(t, 0.00003, known.OutputCostPerToken)

	// Unknown models fall back to the default rate, never zero.
	unknown := table.Lookup("some-future-model")
	assert.Equal(t, table.Lookup("_default"), unknown)
	assert.Positive(t, unknown.InputCostPerToken)
}

func TestPricingTable_Cost(t *testing.T) {
	table := NewPricingTable()

	cost := table.Cost("gpt-4.1", Usage{InputTokens: 1000, OutputTokens: 500})
	assert.InDelta(t, 1000*0.00001+500*0.00003, cost, 1e-12)

	assert.Zero(t, table.Cost("gpt-4.1", Usage{}))
}
