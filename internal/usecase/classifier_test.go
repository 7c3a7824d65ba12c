package usecase

import (
	"context"
	"math"
	"testing"

	"a3sist/internal/domain"
)

func classify(prompt, path string) domain.IntentClassification {
	c := NewKeywordClassifier(0, newTestLogger())
	req := domain.NewRequest(prompt)
	req.FilePath = path
	return c.Classify(context.Background(), req)
}

func TestClassifierIntents(t *testing.T) {
	tests := []struct {
		prompt string
		want   string
	}{
		{"fix the nil pointer error in main.go", domain.IntentFixError},
		{"this code is broken and crashes on startup", domain.IntentFixError},
		{"please refactor this function", domain.IntentRefactor},
		{"rename the variable and simplify the loop", domain.IntentRefactor},
		{"analyze the code quality", domain.IntentAnalyze},
		{"review this module for smells", domain.IntentAnalyze},
		{"write unit tests for the parser", domain.IntentTest},
		{"document this module", domain.IntentDocument},
		{"explain what does this function do", domain.IntentExplain},
		{"generate a scaffold for the service", domain.IntentGenerate},
		{"make it faster somehow", domain.IntentUnknown},
		{"", domain.IntentUnknown},
	}
	for _, tt := range tests {
		got := classify(tt.prompt, "")
		if got.Intent != tt.want {
			t.Errorf("Classify(%q).Intent = %q, want %q (keywords %v)",
				tt.prompt, got.Intent, tt.want, got.Keywords)
		}
	}
}

func TestClassifierLanguageDetection(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"cmd/server/main.go", "go"},
		{"src/Widget.cs", "csharp"},
		{"app.PY", "python"},
		{"index.tsx", "typescript"},
		{"notes.txt", ""},
		{"", ""},
		{"Makefile", ""},
	}
	for _, tt := range tests {
		got := classify("fix this", tt.path)
		if got.Language != tt.want {
			t.Errorf("Classify(path=%q).Language = %q, want %q", tt.path, got.Language, tt.want)
		}
	}
}

func TestClassifierConfidenceMonotonic(t *testing.T) {
	prompts := []string{
		"fix this",                        // 1 keyword
		"fix the error",                   // 2 keywords
		"fix the error, it is a bug",      // 3 keywords
		"fix the broken error bug crash",  // 5 keywords
	}
	prev := 0.0
	for _, p := range prompts {
		got := classify(p, "")
		if got.Confidence < prev {
			t.Errorf("Classify(%q).Confidence = %v, below previous %v (must not decrease with more signals)",
				p, got.Confidence, prev)
		}
		prev = got.Confidence
	}
}

func TestClassifierConfidenceCapped(t *testing.T) {
	got := classify("fix the broken error bug crash exception panic fail", "main.go")
	if got.Confidence > DefaultConfidenceThreshold {
		t.Errorf("Confidence = %v, must not exceed cap %v", got.Confidence, DefaultConfidenceThreshold)
	}
	if math.Abs(got.Confidence-DefaultConfidenceThreshold) > 1e-9 {
		t.Errorf("Confidence = %v, want cap %v with this many signals", got.Confidence, DefaultConfidenceThreshold)
	}
	if got.Unreliable {
		t.Error("Unreliable = true at the confidence cap")
	}
}

func TestClassifierLanguageCountsAsSignal(t *testing.T) {
	without := classify("fix this", "")
	with := classify("fix this", "main.go")
	if with.Confidence <= without.Confidence {
		t.Errorf("Confidence with language = %v, want above %v", with.Confidence, without.Confidence)
	}
}

func TestClassifierUnknownIsUnreliable(t *testing.T) {
	got := classify("hello there", "")
	if got.Intent != domain.IntentUnknown {
		t.Fatalf("Intent = %q, want %q", got.Intent, domain.IntentUnknown)
	}
	if !got.Unreliable {
		t.Error("Unreliable = false for a no-signal classification")
	}
	if got.Confidence >= DefaultConfidenceThreshold {
		t.Errorf("Confidence = %v, want below threshold", got.Confidence)
	}
}

func TestClassifierAlternatives(t *testing.T) {
	got := classify("fix the error and write a test", "")
	if got.Intent != domain.IntentFixError {
		t.Fatalf("Intent = %q, want %q", got.Intent, domain.IntentFixError)
	}
	if len(got.Alternatives) != 2 {
		t.Fatalf("Alternatives = %v, want 2 entries", got.Alternatives)
	}
	if got.Alternatives[0].Intent != domain.IntentTest {
		t.Errorf("Alternatives[0] = %q, want %q", got.Alternatives[0].Intent, domain.IntentTest)
	}
	if got.Alternatives[1].Intent != domain.IntentGenerate {
		t.Errorf("Alternatives[1] = %q, want %q", got.Alternatives[1].Intent, domain.IntentGenerate)
	}
}

func TestClassifierTieBreaksByPatternOrder(t *testing.T) {
	// One keyword each for analyze ("inspect") and document ("docstring");
	// the earlier pattern wins.
	got := classify("inspect the docstring", "")
	if got.Intent != domain.IntentAnalyze {
		t.Errorf("Intent = %q, want %q on a score tie", got.Intent, domain.IntentAnalyze)
	}
}

func TestClassifierSuggestedType(t *testing.T) {
	got := classify("fix the error", "")
	if got.SuggestedType != "code_fixer" {
		t.Errorf("SuggestedType = %q, want %q", got.SuggestedType, "code_fixer")
	}
}

func TestClassifierContentContributes(t *testing.T) {
	c := NewKeywordClassifier(0, newTestLogger())
	req := domain.NewRequest("look at this")
	req.Content = "panic: runtime error: index out of range"
	got := c.Classify(context.Background(), req)
	if got.Intent != domain.IntentFixError {
		t.Errorf("Intent = %q, want %q (content carries the signal)", got.Intent, domain.IntentFixError)
	}
}

func TestClassifierZeroRequest(t *testing.T) {
	c := NewKeywordClassifier(0, newTestLogger())
	got := c.Classify(context.Background(), domain.Request{})
	if got.Intent != domain.IntentUnknown {
		t.Errorf("Intent = %q, want %q", got.Intent, domain.IntentUnknown)
	}
}
