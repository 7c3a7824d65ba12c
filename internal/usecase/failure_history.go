package usecase

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"a3sist/internal/domain"
)

// FailureHistory is the append-only log of dispatch failures, persisted as
// JSON lines so it stays readable by humans and machines alike. The full
// log is loaded at startup; appends go to memory and disk under one lock.
// Records are never rewritten.
type FailureHistory struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	records []domain.FailureRecord // chronological, oldest first
	file    *os.File
}

// NewFailureHistory creates a history backed by the given file path. An
// empty path keeps the history in memory only.
func NewFailureHistory(path string, logger *slog.Logger) *FailureHistory {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureHistory{path: path, logger: logger}
}

// Load reads the entire log from disk. A missing file is not an error;
// malformed lines are skipped with a warning so one bad record cannot take
// the history down.
func (h *FailureHistory) Load() error {
	const op = "FailureHistory.Load"

	if h.path == "" {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return h.openAppendLocked()
		}
		return domain.NewDomainError(op, domain.ErrHistoryWrite, err.Error())
	}

	var records []domain.FailureRecord
	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec domain.FailureRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return domain.NewDomainError(op, domain.ErrHistoryWrite, scanErr.Error())
	}

	h.records = records
	if skipped > 0 {
		h.logger.Warn("skipped malformed failure history lines", "path", h.path, "skipped", skipped)
	}
	h.logger.Info("failure history loaded", "path", h.path, "records", len(records))

	return h.openAppendLocked()
}

// openAppendLocked opens the backing file for appends. Caller holds mu.
func (h *FailureHistory) openAppendLocked() error {
	if dir := filepath.Dir(h.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return domain.NewDomainError("FailureHistory.Load", domain.ErrHistoryWrite, err.Error())
		}
	}
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return domain.NewDomainError("FailureHistory.Load", domain.ErrHistoryWrite, err.Error())
	}
	h.file = f
	return nil
}

// Append adds one record to the log. ID and timestamp are filled in when
// zero. The in-memory view and the file stay in step; a write failure
// still keeps the record in memory so routing can use it.
func (h *FailureHistory) Append(rec domain.FailureRecord) error {
	const op = "FailureHistory.Append"

	if rec.ID == "" {
		rec.ID = domain.NewID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, rec)

	if h.file == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrHistoryWrite, err.Error())
	}
	if _, err := h.file.Write(append(data, '\n')); err != nil {
		return domain.NewDomainError(op, domain.ErrHistoryWrite, err.Error())
	}
	return nil
}

// MostRecentMatch returns the newest record whose task signature matches
// the given request text, scanning from the tail so the most recent
// failure wins.
func (h *FailureHistory) MostRecentMatch(text string) (domain.FailureRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].MatchesTask(text) {
			return h.records[i], true
		}
	}
	return domain.FailureRecord{}, false
}

// Records returns a copy of the full history, oldest first.
func (h *FailureHistory) Records() []domain.FailureRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.FailureRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Len returns the number of records.
func (h *FailureHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Close releases the backing file.
func (h *FailureHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	if err != nil {
		return fmt.Errorf("close failure history: %w", err)
	}
	return nil
}
