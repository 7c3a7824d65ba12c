package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureRecordMatchesTask(t *testing.T) {
	rec := FailureRecord{TaskSignature: "null reference in parser"}

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"signature contained in text", "fix the null reference in parser module", true},
		{"text contained in signature", "null reference", true},
		{"case insensitive", "NULL Reference IN PARSER", true},
		{"no overlap", "rename this variable", false},
		{"empty text", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rec.MatchesTask(tt.text))
		})
	}
}

func TestFailureRecordMatchesTaskEmptySignature(t *testing.T) {
	rec := FailureRecord{TaskSignature: ""}
	assert.False(t, rec.MatchesTask("anything"))
}

func TestFailureRecordRoundTrip(t *testing.T) {
	rec := FailureRecord{
		ID:             NewID(),
		TaskSignature:  "timeout during refactor of store.go",
		Handler:        "refactorer",
		Description:    "provider timed out after 3 retries",
		RootCause:      "upstream 504s during incident window",
		AttemptedFixes: []string{"retry with backoff", "failover to secondary"},
		Resolution:     "resolved after provider recovery",
		Timestamp:      time.Date(2025, 11, 3, 14, 22, 5, 0, time.UTC),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got FailureRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rec, got)
}
