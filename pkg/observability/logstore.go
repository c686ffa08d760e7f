package observability

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind classifies structured log records.
type EventKind string

const (
	EventThinking EventKind = "thinking"
	EventToolCall EventKind = "tool_call"
	EventPrompt   EventKind = "prompt"
	EventResult   EventKind = "result"
	EventError    EventKind = "error"
	EventWorkflow EventKind = "workflow"
	EventTask     EventKind = "task"
)

// TokenUsage carries optional token accounting on a record.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LogRecord is one structured execution log entry.
type LogRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      slog.Level     `json:"level"`
	Node       string         `json:"node,omitempty"`
	Agent      string         `json:"agent,omitempty"`
	EventType  EventKind      `json:"event_type"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TokenUsage *TokenUsage    `json:"token_usage,omitempty"`
}

// LogStore is an append-only sequence of structured records.
type LogStore struct {
	mu      sync.RWMutex
	records []LogRecord
}

// NewLogStore creates an empty store.
func NewLogStore() *LogStore {
	return &LogStore{}
}

// Append adds a record, stamping the time if unset.
func (s *LogStore) Append(rec LogRecord) {
	if s == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// Records returns a copy of all records in append order.
func (s *LogStore) Records() []LogRecord {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LogRecord(nil), s.records...)
}

// ByKind returns records of one event kind in append order.
func (s *LogStore) ByKind(kind EventKind) []LogRecord {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []LogRecord
	for _, r := range s.records {
		if r.EventType == kind {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of records.
func (s *LogStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
