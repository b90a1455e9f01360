// Package analysis orchestrates risk-evolution jobs: prompt construction,
// LLM response parsing, and the in-memory job registry and runner.
package analysis

import (
	"fmt"
	"strings"
)

const (
	currentTextLimit  = 6000
	previousTextLimit = 3000
)

// BuildRiskPrompt renders the located section text into the instruction sent
// to the LLM. previous may be empty when no prior-year filing exists; the
// comparison fields then describe the current year in isolation.
func BuildRiskPrompt(current, previous string) string {
	current = truncate(current, currentTextLimit)
	previous = truncate(previous, previousTextLimit)

	var b strings.Builder
	b.WriteString("You are a financial analyst comparing the risk factor disclosures of a company across two annual reports.\n\n")
	b.WriteString("CURRENT YEAR RISK FACTORS:\n")
	b.WriteString(current)
	b.WriteString("\n\n")

	if previous != "" {
		b.WriteString("PRIOR YEAR RISK FACTORS:\n")
		b.WriteString(previous)
		b.WriteString("\n\n")
	} else {
		b.WriteString("No prior year filing is available; treat all risks as current-year only and leave the comparison lists empty.\n\n")
	}

	fmt.Fprintf(&b, `Respond with a single JSON object and nothing else, using exactly these keys:
{
  "risk_categories": {"<category name>": <0-1 weight>, ...},
  "new_risks": ["<risk newly disclosed this year>", ...],
  "removed_risks": ["<risk no longer disclosed>", ...],
  "sentiment_delta": <signed number, negative means tone worsened>,
  "urgency_score": <0-10 number>,
  "key_phrases": ["<notable phrase>", ...],
  "summary": "<2-3 sentence summary of how the risk profile changed>"
}`)

	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
