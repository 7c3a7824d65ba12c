package domain

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Request is a single unit of work submitted to the routing core.
// Treat as immutable once constructed: components receive it by value and
// never modify it.
type Request struct {
	ID            string            `json:"id"`
	Prompt        string            `json:"prompt"`
	FilePath      string            `json:"file_path,omitempty"`
	Content       string            `json:"content,omitempty"`
	PreferredType string            `json:"preferred_type,omitempty"` // handler type hint, advisory only
	Context       map[string]string `json:"context,omitempty"`
	RequesterID   string            `json:"requester_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewRequest creates a Request with a fresh ULID and creation timestamp.
// Optional fields are set on the returned value before first use.
func NewRequest(prompt string) Request {
	now := time.Now().UTC()
	return Request{
		ID:        generateULID(now),
		Prompt:    prompt,
		CreatedAt: now,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewID returns a fresh ULID for records that need their own identity.
func NewID() string {
	return generateULID(time.Now().UTC())
}

// Text returns the searchable text of the request: prompt plus content.
// Used for keyword scans and failure-history signature matching.
func (r Request) Text() string {
	if r.Content == "" {
		return r.Prompt
	}
	return r.Prompt + "\n" + r.Content
}
