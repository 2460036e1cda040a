// Package prompt builds the conversation messages for each agent. The
// wording here is not a contract; callers depend only on the builder
// producing a system/user message pair per agent role.
package prompt

import (
	"fmt"
	"strings"

	"github.com/shaiss/near-catalyst/pkg/config"
	"github.com/shaiss/near-catalyst/pkg/models"
)

// Context limits keep a long research body from blowing past the
// model's useful window.
const (
	maxResearchContext = 2000
	maxAnalysisContext = 4000
)

// Builder constructs prompts from subject profiles and upstream
// artifacts. Stateless.
type Builder struct{}

// NewBuilder creates a prompt builder.
func NewBuilder() *Builder { return &Builder{} }

// BuildResearchPrompt builds the general research request for a subject,
// enriched with whatever catalog profile data is available.
func (b *Builder) BuildResearchPrompt(subject models.Subject) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research the project %q for partnership catalyst evaluation.\n\n", subject.DisplayName)
	sb.WriteString("KNOWN PROJECT INFORMATION:\n")
	sb.WriteString(profileContext(subject.Profile))
	sb.WriteString(`

Key research areas:
1. Core technology and unique capabilities that complement the ecosystem
2. Developer tools, SDKs, and integration resources
3. Target developer audience and technical complexity
4. Documentation quality and availability of tutorials or sample code
5. Community engagement and track record of supporting developer events

Report red flags: enterprise-only complexity, poor self-service
onboarding, or direct competition with the ecosystem's core capabilities.

Focus on factual, verifiable information. Cite sources as markdown links.`)
	return sb.String()
}

// BuildDimensionResearchPrompt builds the dimension-focused research
// request, seeded with the general research body.
func (b *Builder) BuildDimensionResearchPrompt(dim config.Dimension, subject models.Subject, generalResearch string) string {
	return fmt.Sprintf(`You are researching a potential partner project, %q.

QUESTION FOCUS: %s
DESCRIPTION: %s
SEARCH TARGETS: %s

EXISTING CONTEXT:
%s

Gather evidence that helps answer %q: technical details, documentation,
examples, and developer experiences. Provide a thorough research summary.`,
		subject.DisplayName, dim.Question, dim.Description, dim.SearchFocus,
		truncate(generalResearch, maxResearchContext), dim.Question)
}

// BuildDimensionAnalysisPrompt builds the scoring request for one
// dimension. The structured-output footer defines the grammar the parser
// expects.
func (b *Builder) BuildDimensionAnalysisPrompt(dim config.Dimension, subject models.Subject, generalResearch, dimensionResearch string) string {
	context := dimensionResearch
	if generalResearch != "" {
		context = "QUESTION-SPECIFIC RESEARCH:\n" + dimensionResearch +
			"\n\nGENERAL CONTEXT:\n" + generalResearch
	}

	return fmt.Sprintf(`You are a partnership scout analyzing catalyst potential for %q.

DIAGNOSTIC QUESTION: %s
DESCRIPTION: %s

COMPREHENSIVE CONTEXT:
%s

Evaluate the evidence and apply the scoring framework:
  +1: strong positive evidence, clear benefit to developers
   0: neutral or mixed evidence, unclear benefit
  -1: negative evidence, potential friction or competition

Rate your confidence: High (strong evidence), Medium (some uncertainty),
Low (limited evidence).

Respond in exactly this structure:

ANALYSIS: [detailed reasoning, 2-3 paragraphs]

SCORE: [+1, 0, or -1]

CONFIDENCE: [High, Medium, or Low]`,
		subject.DisplayName, dim.Question, dim.Description,
		truncate(context, maxAnalysisContext))
}

// BuildSynthesisPrompt builds the final aggregation request from the full
// ordered judgment set.
func (b *Builder) BuildSynthesisPrompt(subject models.Subject, generalResearch string, judgments []models.DimensionJudgment, thresholds config.Thresholds) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the partnership scout's final decision engine for %q.\n\n", subject.DisplayName)

	if generalResearch != "" {
		sb.WriteString("GENERAL RESEARCH:\n")
		sb.WriteString(truncate(generalResearch, 1000))
		sb.WriteString("\n\n")
	}

	sb.WriteString("SCORING BREAKDOWN:\n")
	total := 0
	for _, j := range judgments {
		total += j.Score
		fmt.Fprintf(&sb, "Q%d: %+d (%s)\n", j.DimensionID, j.Score, j.Confidence)
		fmt.Fprintf(&sb, "  %s\n", truncate(j.Rationale, 300))
	}
	fmt.Fprintf(&sb, "\nTOTAL SCORE: %+d/%d\n\n", total, len(judgments))

	fmt.Fprintf(&sb, `Thresholds: score >= %d is a strong candidate; %d..%d is mixed;
below %d should be declined.

Write a partnership brief: lead with the numeric score and the
threshold-based recommendation, then key findings (strongest point,
primary concern, feasibility) and concrete next steps. Synthesize with
authority and precision.`,
		thresholds.StrongCandidate, thresholds.MixedFit,
		thresholds.StrongCandidate-1, thresholds.MixedFit)
	return sb.String()
}

// profileContext renders the non-empty profile fields, one per line.
func profileContext(p models.Profile) string {
	var lines []string
	add := func(label, v string) {
		if v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	add("Tagline", p.Tagline)
	if len(p.Tags) > 0 {
		lines = append(lines, "Tags: "+strings.Join(p.Tags, ", "))
	}
	add("Phase", p.Phase)
	add("Description", p.Description)
	add("Category", p.Category)
	add("Development Stage", p.Stage)
	add("Tech Stack", p.TechStack)
	add("Website", p.Website)
	add("GitHub", p.GitHub)
	add("Documentation", p.Docs)
	if len(lines) == 0 {
		return "Limited project information available"
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... [context truncated]"
}
