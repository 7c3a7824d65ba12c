package domain

import (
	"strings"
	"time"
)

// FailureRecord is one entry in the append-only failure history. Records
// are ordered by timestamp and never rewritten; routing reads them
// most-recent-first.
type FailureRecord struct {
	ID             string    `json:"id"`
	TaskSignature  string    `json:"task_signature"` // free-text match key
	Handler        string    `json:"handler"`        // name of the failing handler
	Description    string    `json:"description"`
	RootCause      string    `json:"root_cause,omitempty"`
	AttemptedFixes []string  `json:"attempted_fixes,omitempty"`
	Resolution     string    `json:"resolution,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// MatchesTask reports whether the record's task signature matches the given
// request text. Matching is case-insensitive substring containment in
// either direction, so a short signature matches a long prompt and vice
// versa.
func (r FailureRecord) MatchesTask(text string) bool {
	if r.TaskSignature == "" || text == "" {
		return false
	}
	sig := strings.ToLower(r.TaskSignature)
	txt := strings.ToLower(text)
	return strings.Contains(txt, sig) || strings.Contains(sig, txt)
}
