package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiss/near-catalyst/pkg/models"
)

func TestParseJudgment(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		wantScore      int
		wantConfidence models.Confidence
		wantRationale  string
	}{
		{
			name: "canonical structure",
			input: "ANALYSIS: The project fills a real gap.\n\n" +
				"SCORE: +1\n\nCONFIDENCE: High",
			wantScore:      1,
			wantConfidence: models.ConfidenceHigh,
			wantRationale:  "The project fills a real gap.",
		},
		{
			name:           "plain 1 without sign",
			input:          "SCORE: 1\nCONFIDENCE: Medium\nSome reasoning.",
			wantScore:      1,
			wantConfidence: models.ConfidenceMedium,
			wantRationale:  "Some reasoning.",
		},
		{
			name:           "negative score",
			input:          "SCORE: -1\nCONFIDENCE: Low",
			wantScore:      -1,
			wantConfidence: models.ConfidenceLow,
		},
		{
			name:           "bracketed tokens",
			input:          "SCORE: [0]\nCONFIDENCE: [Medium]",
			wantScore:      0,
			wantConfidence: models.ConfidenceMedium,
		},
		{
			name:           "lowercase labels any order",
			input:          "confidence: high\nscore: +1\nTrailing notes.",
			wantScore:      1,
			wantConfidence: models.ConfidenceHigh,
			wantRationale:  "Trailing notes.",
		},
		{
			name:           "trailing commentary after token",
			input:          "SCORE: +1 because the evidence is strong\nCONFIDENCE: High (clear docs)",
			wantScore:      1,
			wantConfidence: models.ConfidenceHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseJudgment(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, parsed.Score)
			assert.Equal(t, tt.wantConfidence, parsed.Confidence)
			if tt.wantRationale != "" {
				assert.Equal(t, tt.wantRationale, parsed.Rationale)
			}
		})
	}
}

func TestParseJudgment_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantField string
	}{
		{"missing score line", "CONFIDENCE: High\nReasoning only.", "score"},
		{"missing confidence line", "SCORE: +1\nReasoning only.", "confidence"},
		{"score out of range", "SCORE: 2\nCONFIDENCE: High", "score"},
		{"unknown confidence token", "SCORE: 0\nCONFIDENCE: Maybe", "confidence"},
		{"empty input", "", "score"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJudgment(tt.input)
			require.Error(t, err)

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, tt.wantField, parseErr.Field)
		})
	}
}

func TestDefaultParsed(t *testing.T) {
	p := DefaultParsed("  unstructured model rambling  ")
	assert.Equal(t, 0, p.Score)
	assert.Equal(t, models.ConfidenceLow, p.Confidence)
	assert.Equal(t, "unstructured model rambling", p.Rationale)
}
