package domain

import "context"

// Well-known intent labels produced by the classifier. Handler capability
// lists reference these by name; the set is open, handlers may declare
// intents outside it.
const (
	IntentFixError = "fix_error"
	IntentRefactor = "refactor"
	IntentAnalyze  = "analyze"
	IntentExplain  = "explain"
	IntentGenerate = "generate"
	IntentDocument = "document"
	IntentTest     = "test"
	IntentUnknown  = "unknown"
)

// IntentScore is an alternative intent candidate with its confidence.
type IntentScore struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// IntentClassification is the classifier's verdict on a single request.
// Produced fresh per request, never mutated afterwards.
type IntentClassification struct {
	Intent        string       `json:"intent"`
	Confidence    float64      `json:"confidence"` // in [0,1]
	Language      string       `json:"language,omitempty"`
	SuggestedType string       `json:"suggested_type,omitempty"`
	Keywords      []string     `json:"keywords,omitempty"`
	Alternatives  []IntentScore `json:"alternatives,omitempty"`
	Unreliable    bool         `json:"unreliable,omitempty"` // confidence below the classifier's threshold
}

// IntentClassifier maps a request to an intent classification.
// Implementations must not fail across this boundary: internal errors
// degrade to a low-confidence IntentUnknown result instead.
type IntentClassifier interface {
	Classify(ctx context.Context, req Request) IntentClassification
}
