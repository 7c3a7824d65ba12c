package usecase

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"a3sist/internal/domain"
)

// DefaultConfidenceThreshold caps classifier confidence; results below it
// are flagged unreliable.
const DefaultConfidenceThreshold = 0.7

// degradedConfidence is reported when classification itself fails.
const degradedConfidence = 0.1

// intentPattern maps an intent to its trigger keywords. Order matters:
// earlier patterns win score ties, which keeps classification
// deterministic.
type intentPattern struct {
	intent        string
	suggestedType string
	keywords      []string
}

var defaultPatterns = []intentPattern{
	{domain.IntentFixError, "code_fixer", []string{
		"fix", "error", "bug", "broken", "crash", "exception", "panic",
		"fail", "nil pointer", "null reference", "not working",
	}},
	{domain.IntentRefactor, "refactorer", []string{
		"refactor", "rename", "restructure", "clean up", "simplify",
		"extract", "reorganize", "deduplicate",
	}},
	{domain.IntentAnalyze, "code_analyzer", []string{
		"analyze", "analysis", "review", "inspect", "audit", "smell",
		"lint", "complexity", "quality",
	}},
	{domain.IntentTest, "test_writer", []string{
		"test", "unit test", "coverage", "assert", "mock",
	}},
	{domain.IntentDocument, "documenter", []string{
		"document", "comment", "docstring", "readme", "changelog",
	}},
	{domain.IntentExplain, "assistant", []string{
		"explain", "what does", "how does", "why does", "understand",
		"describe", "walk me through",
	}},
	{domain.IntentGenerate, "assistant", []string{
		"generate", "create", "write", "implement", "add", "build",
		"scaffold",
	}},
}

// extLanguages maps file extensions to detected languages.
var extLanguages = map[string]string{
	".go":   "go",
	".cs":   "csharp",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".rb":   "ruby",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".hpp":  "cpp",
	".php":  "php",
	".kt":   "kotlin",
	".swift": "swift",
	".sh":   "shell",
	".sql":  "sql",
	".html": "html",
	".css":  "css",
	".md":   "markdown",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
}

// KeywordClassifier is a deterministic intent classifier: case-insensitive
// keyword matching over prompt and content, with file-extension language
// detection as an independent signal. It never fails across its boundary;
// internal errors degrade to a low-confidence unknown classification.
type KeywordClassifier struct {
	threshold float64
	patterns  []intentPattern
	logger    *slog.Logger
}

// NewKeywordClassifier builds a classifier with the default pattern table.
// threshold <= 0 selects DefaultConfidenceThreshold.
func NewKeywordClassifier(threshold float64, logger *slog.Logger) *KeywordClassifier {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeywordClassifier{
		threshold: threshold,
		patterns:  defaultPatterns,
		logger:    logger,
	}
}

// Threshold returns the confidence cap.
func (c *KeywordClassifier) Threshold() float64 { return c.threshold }

// Classify maps a request to an intent classification. It never returns an
// error and never panics outward; any internal failure produces the
// degraded unknown result so routing can continue.
func (c *KeywordClassifier) Classify(ctx context.Context, req domain.Request) (cls domain.IntentClassification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("classifier recovered from internal failure",
				"request_id", req.ID,
				"panic", r,
			)
			cls = domain.IntentClassification{
				Intent:     domain.IntentUnknown,
				Confidence: degradedConfidence,
				Unreliable: true,
			}
		}
	}()

	text := strings.ToLower(req.Text())
	language := detectLanguage(req.FilePath)

	type scored struct {
		pattern  intentPattern
		matches  []string
		position int
	}
	var scores []scored
	for i, p := range c.patterns {
		var matched []string
		for _, kw := range p.keywords {
			if strings.Contains(text, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 {
			scores = append(scores, scored{pattern: p, matches: matched, position: i})
		}
	}

	// Highest match count wins; earlier pattern wins ties.
	sort.SliceStable(scores, func(i, j int) bool {
		if len(scores[i].matches) != len(scores[j].matches) {
			return len(scores[i].matches) > len(scores[j].matches)
		}
		return scores[i].position < scores[j].position
	})

	if len(scores) == 0 {
		conf := c.confidence(0, language)
		return domain.IntentClassification{
			Intent:     domain.IntentUnknown,
			Confidence: conf,
			Language:   language,
			Unreliable: conf < c.threshold,
		}
	}

	best := scores[0]
	conf := c.confidence(len(best.matches), language)

	alts := make([]domain.IntentScore, 0, len(scores)-1)
	for _, s := range scores[1:] {
		alts = append(alts, domain.IntentScore{
			Intent:     s.pattern.intent,
			Confidence: c.confidence(len(s.matches), language),
		})
	}

	cls = domain.IntentClassification{
		Intent:        best.pattern.intent,
		Confidence:    conf,
		Language:      language,
		SuggestedType: best.pattern.suggestedType,
		Keywords:      best.matches,
		Alternatives:  alts,
		Unreliable:    conf < c.threshold,
	}

	c.logger.Debug("request classified",
		"request_id", req.ID,
		"intent", cls.Intent,
		"confidence", cls.Confidence,
		"language", cls.Language,
		"keywords", len(cls.Keywords),
	)
	return cls
}

// confidence is monotonic in the number of matched signals and capped at
// the threshold. Language detection counts as one extra signal.
func (c *KeywordClassifier) confidence(keywordMatches int, language string) float64 {
	signals := keywordMatches
	if language != "" {
		signals++
	}
	conf := 0.25 + 0.15*float64(signals)
	if conf > c.threshold {
		conf = c.threshold
	}
	return conf
}

func detectLanguage(path string) string {
	if path == "" {
		return ""
	}
	return extLanguages[strings.ToLower(filepath.Ext(path))]
}
