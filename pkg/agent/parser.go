package agent

import (
	"fmt"
	"strings"

	"github.com/shaiss/near-catalyst/pkg/models"
)

// Parsed is the typed result of the dimension-output grammar: a score
// token from {-1, 0, +1}, a confidence token from {Low, Medium, High},
// and the remaining free-text rationale.
type Parsed struct {
	Score      int
	Confidence models.Confidence
	Rationale  string
}

// ParseError reports model output that does not match the grammar.
// Callers recover with the documented conservative default (score 0,
// confidence Low, raw text as rationale) rather than failing the run.
type ParseError struct {
	Field  string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("judgment parse error: %s: %s", e.Field, e.Detail)
}

// DefaultParsed is the fallback applied when parsing fails.
func DefaultParsed(raw string) Parsed {
	return Parsed{Score: 0, Confidence: models.ConfidenceLow, Rationale: strings.TrimSpace(raw)}
}

// ParseJudgment parses structured dimension output. The grammar is
// line-oriented: one line carrying "SCORE: <token>", one carrying
// "CONFIDENCE: <token>" (both case-insensitive, in any order), and all
// remaining lines forming the rationale. An optional "ANALYSIS:" label
// line is stripped from the rationale.
func ParseJudgment(text string) (Parsed, error) {
	var (
		p              Parsed
		scoreSeen      bool
		confidenceSeen bool
		rationale      []string
	)

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)

		switch {
		case strings.HasPrefix(upper, "SCORE:"):
			token := strings.TrimSpace(trimmed[len("SCORE:"):])
			score, err := parseScoreToken(token)
			if err != nil {
				return Parsed{}, err
			}
			p.Score = score
			scoreSeen = true

		case strings.HasPrefix(upper, "CONFIDENCE:"):
			token := strings.TrimSpace(trimmed[len("CONFIDENCE:"):])
			conf, err := parseConfidenceToken(token)
			if err != nil {
				return Parsed{}, err
			}
			p.Confidence = conf
			confidenceSeen = true

		case strings.HasPrefix(upper, "ANALYSIS:"):
			rest := strings.TrimSpace(trimmed[len("ANALYSIS:"):])
			if rest != "" {
				rationale = append(rationale, rest)
			}

		default:
			if trimmed != "" {
				rationale = append(rationale, trimmed)
			}
		}
	}

	if !scoreSeen {
		return Parsed{}, &ParseError{Field: "score", Detail: "no SCORE line found"}
	}
	if !confidenceSeen {
		return Parsed{}, &ParseError{Field: "confidence", Detail: "no CONFIDENCE line found"}
	}

	p.Rationale = strings.Join(rationale, "\n")
	return p, nil
}

// parseScoreToken accepts the closed token set {-1, 0, +1} with optional
// surrounding brackets and trailing commentary.
func parseScoreToken(token string) (int, error) {
	token = strings.Trim(token, "[]() ")
	if i := strings.IndexAny(token, " \t"); i >= 0 {
		token = token[:i]
	}
	switch token {
	case "+1", "1":
		return 1, nil
	case "0":
		return 0, nil
	case "-1":
		return -1, nil
	}
	return 0, &ParseError{Field: "score", Detail: fmt.Sprintf("token %q not in {-1, 0, +1}", token)}
}

func parseConfidenceToken(token string) (models.Confidence, error) {
	token = strings.Trim(token, "[]() ")
	if i := strings.IndexAny(token, " \t"); i >= 0 {
		token = token[:i]
	}
	switch strings.ToLower(token) {
	case "high":
		return models.ConfidenceHigh, nil
	case "medium":
		return models.ConfidenceMedium, nil
	case "low":
		return models.ConfidenceLow, nil
	}
	return "", &ParseError{Field: "confidence", Detail: fmt.Sprintf("token %q not in {Low, Medium, High}", token)}
}
