package analysis

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-analyzer/internal/model"
)

// riskPayload uses pointers to tell a missing key apart from a zero value:
// required keys must be present, optional ones get defaults.
type riskPayload struct {
	RiskCategories map[string]float64 `json:"risk_categories"`
	NewRisks       []string           `json:"new_risks"`
	RemovedRisks   []string           `json:"removed_risks"`
	SentimentDelta *float64           `json:"sentiment_delta"`
	UrgencyScore   *float64           `json:"urgency_score"`
	KeyPhrases     []string           `json:"key_phrases"`
	Summary        *string            `json:"summary"`
}

// ParseRiskAnalysis decodes the raw LLM response into a RiskAnalysis. The
// response is unfenced first since models often wrap JSON in markdown code
// fences. Missing required keys are an error; new_risks and removed_risks
// default to empty lists and sentiment_delta to 0.
func ParseRiskAnalysis(raw string) (*model.RiskAnalysis, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, eris.New("analysis: empty response")
	}

	var p riskPayload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, eris.Wrap(err, "analysis: decode response")
	}

	var missing []string
	if p.RiskCategories == nil {
		missing = append(missing, "risk_categories")
	}
	if p.UrgencyScore == nil {
		missing = append(missing, "urgency_score")
	}
	if p.KeyPhrases == nil {
		missing = append(missing, "key_phrases")
	}
	if p.Summary == nil {
		missing = append(missing, "summary")
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("analysis: response missing keys: %s", strings.Join(missing, ", "))
	}

	out := &model.RiskAnalysis{
		RiskCategories: p.RiskCategories,
		NewRisks:       p.NewRisks,
		RemovedRisks:   p.RemovedRisks,
		UrgencyScore:   *p.UrgencyScore,
		KeyPhrases:     p.KeyPhrases,
		Summary:        *p.Summary,
	}
	if p.NewRisks == nil {
		out.NewRisks = []string{}
	}
	if p.RemovedRisks == nil {
		out.RemovedRisks = []string{}
	}
	if p.SentimentDelta != nil {
		out.SentimentDelta = *p.SentimentDelta
	}
	return out, nil
}

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
