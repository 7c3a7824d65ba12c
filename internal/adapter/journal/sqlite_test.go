package journal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"a3sist/internal/domain"
	"a3sist/internal/usecase/eventbus"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	store, err := New(dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleResult(id string, status domain.DispatchStatus) *domain.DispatchResult {
	res := &domain.DispatchResult{
		RequestID: id,
		Status:    status,
		Decision: domain.RoutingDecision{
			Target:     "code-assistant",
			TargetType: "agent",
			Intent:     "code",
			Confidence: 0.8,
		},
		Attempts:  2,
		LatencyMS: 42,
	}
	if status != domain.DispatchSucceeded {
		res.Error = "handler gave up"
	}
	return res
}

func TestJournalRecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := sampleResult("req-1", domain.DispatchSucceeded)
	if err := store.Record(ctx, first); err != nil {
		t.Fatalf("Record: %v", err)
	}

	second := sampleResult("req-2", domain.DispatchFailed)
	second.Decision.Intent = "explain"
	second.Decision.Target = "general-assistant"
	second.Decision.IsFallback = true
	second.Attempts = 3
	if err := store.Record(ctx, second); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent count = %d, want 2", len(entries))
	}

	// Newest first.
	got := entries[0]
	if got.RequestID != "req-2" {
		t.Errorf("RequestID = %q, want %q", got.RequestID, "req-2")
	}
	if got.Intent != "explain" {
		t.Errorf("Intent = %q, want %q", got.Intent, "explain")
	}
	if got.Target != "general-assistant" {
		t.Errorf("Target = %q, want %q", got.Target, "general-assistant")
	}
	if !got.IsFallback {
		t.Error("IsFallback = false, want true")
	}
	if got.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", got.Attempts)
	}
	if got.Outcome != string(domain.DispatchFailed) {
		t.Errorf("Outcome = %q, want %q", got.Outcome, domain.DispatchFailed)
	}
	if got.LatencyMS != 42 {
		t.Errorf("LatencyMS = %d, want 42", got.LatencyMS)
	}
	if got.Error != "handler gave up" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}

	if entries[1].RequestID != "req-1" {
		t.Errorf("older entry RequestID = %q, want %q", entries[1].RequestID, "req-1")
	}
	if entries[1].IsFallback {
		t.Error("older entry IsFallback = true, want false")
	}
	if entries[1].Error != "" {
		t.Errorf("older entry Error = %q, want empty", entries[1].Error)
	}
}

func TestJournalRecentLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := sampleResult("req-"+string(rune('a'+i)), domain.DispatchSucceeded)
		if err := store.Record(ctx, res); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent count = %d, want 2", len(entries))
	}
	if entries[0].RequestID != "req-e" || entries[1].RequestID != "req-d" {
		t.Errorf("Recent order = %q, %q; want req-e, req-d", entries[0].RequestID, entries[1].RequestID)
	}
}

func TestJournalRecentEmpty(t *testing.T) {
	store := newTestStore(t)

	entries, err := store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Recent count = %d, want 0", len(entries))
	}
}

func TestJournalPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, sampleResult("req-old", domain.DispatchFailed)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(ctx, sampleResult("req-new", domain.DispatchSucceeded)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Backdate one row past the retention window.
	old := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	if _, err := store.db.Exec("UPDATE dispatches SET created_at = ? WHERE request_id = ?", old, "req-old"); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	removed, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Prune removed = %d, want 1", removed)
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].RequestID != "req-new" {
		t.Fatalf("surviving entries = %+v, want only req-new", entries)
	}

	// Nothing left past the window.
	removed, err = store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 0 {
		t.Errorf("second Prune removed = %d, want 0", removed)
	}
}

func TestJournalReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	store, err := New(dbPath, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Record(ctx, sampleResult("req-1", domain.DispatchSucceeded)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(dbPath, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].RequestID != "req-1" {
		t.Fatalf("entries after reopen = %+v, want req-1", entries)
	}
}

func publishDispatch(t *testing.T, bus *eventbus.Bus, typ domain.EventType, res *domain.DispatchResult) {
	t.Helper()
	payload, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	bus.Publish(context.Background(), domain.Event{
		Type:      typ,
		RequestID: res.RequestID,
		Handler:   res.Decision.Target,
		Payload:   payload,
	})
}

func TestJournalSubscribeRecordsCompletions(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	unsub := store.Subscribe(bus)
	defer unsub()

	publishDispatch(t, bus, domain.EventDispatchSucceeded, sampleResult("req-ok", domain.DispatchSucceeded))
	publishDispatch(t, bus, domain.EventDispatchFailed, sampleResult("req-bad", domain.DispatchFailed))
	publishDispatch(t, bus, domain.EventDispatchCancelled, sampleResult("req-cancel", domain.DispatchCancelled))

	// Not a completion event; the journal must ignore it.
	bus.Publish(context.Background(), domain.Event{Type: domain.EventRoutingDecided, RequestID: "req-route"})

	bus.Close()

	entries, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("journaled entries = %d, want 3", len(entries))
	}

	outcomes := make(map[string]string, len(entries))
	for _, e := range entries {
		outcomes[e.RequestID] = e.Outcome
	}
	want := map[string]string{
		"req-ok":     string(domain.DispatchSucceeded),
		"req-bad":    string(domain.DispatchFailed),
		"req-cancel": string(domain.DispatchCancelled),
	}
	for id, outcome := range want {
		if outcomes[id] != outcome {
			t.Errorf("outcome[%s] = %q, want %q", id, outcomes[id], outcome)
		}
	}
}

func TestJournalSubscribeUnsubscribe(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	unsub := store.Subscribe(bus)
	unsub()

	publishDispatch(t, bus, domain.EventDispatchSucceeded, sampleResult("req-1", domain.DispatchSucceeded))
	bus.Close()

	entries, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries after unsubscribe = %d, want 0", len(entries))
	}
}

func TestJournalSubscribeBadPayload(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	unsub := store.Subscribe(bus)
	defer unsub()

	bus.Publish(context.Background(), domain.Event{
		Type:      domain.EventDispatchFailed,
		RequestID: "req-garbage",
		Payload:   json.RawMessage(`{not json`),
	})
	bus.Close()

	entries, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries from bad payload = %d, want 0", len(entries))
	}
}
