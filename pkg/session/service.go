package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// SessionStatus tracks a session's lifecycle.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is the durable identity of a task across restarts. The thread id
// keys the checkpoint history; the session id identifies this record.
type Session struct {
	ID              string         `json:"id"`
	ThreadID        string         `json:"thread_id"`
	TaskType        string         `json:"task_type"`
	Workspace       string         `json:"workspace"`
	Status          SessionStatus  `json:"status"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CheckpointCount int            `json:"checkpoint_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Service manages sessions and their checkpoint snapshots. Writes to the
// same thread id are serialized; reads proceed concurrently.
type Service struct {
	store  Store
	limits protocol.Limits
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	threadMu sync.Mutex
	threads  map[string]*sync.Mutex
}

// NewService creates a session service over the given checkpoint store.
func NewService(store Store, limits protocol.Limits) *Service {
	return &Service{
		store:    store,
		limits:   limits,
		logger:   slog.Default().With("component", "session"),
		sessions: make(map[string]*Session),
		threads:  make(map[string]*sync.Mutex),
	}
}

// CreateSession registers a new session with fresh session and thread ids.
func (s *Service) CreateSession(description, taskType, workspace string, metadata map[string]any) *Session {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		ThreadID:  uuid.NewString(),
		TaskType:  taskType,
		Workspace: workspace,
		Status:    SessionActive,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sess.Metadata == nil {
		sess.Metadata = make(map[string]any)
	}
	sess.Metadata["description"] = description

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session created",
		"session_id", sess.ID,
		"thread_id", sess.ThreadID,
		"task_type", taskType)
	return sess
}

// GetSession returns the session for an id.
func (s *Service) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// ListSessions returns all known sessions, newest first.
func (s *Service) ListSessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// RecordCheckpoint bumps the session's checkpoint counter. The snapshot
// itself is written by SaveState keyed by thread id.
func (s *Service) RecordCheckpoint(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.CheckpointCount++
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// CompleteSession marks the session terminal and removes it from the
// active set. The checkpoint history remains until deleted.
func (s *Service) CompleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Status = SessionCompleted
	sess.UpdatedAt = time.Now().UTC()
	delete(s.sessions, id)
	return nil
}

// DeleteSession removes a session and its checkpoint history.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.store.Delete(sess.ThreadID)
}

// SaveState checkpoints the state under the thread id. Writes to the same
// thread are serialized.
func (s *Service) SaveState(threadID string, state *protocol.WorkflowState) error {
	data, err := state.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	lock := s.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()
	return s.store.Save(threadID, data)
}

// LoadState reads and validates the most recent snapshot for the thread.
// A snapshot failing validation is rejected; the caller decides whether to
// restart the task or abort.
func (s *Service) LoadState(threadID string) (*protocol.WorkflowState, error) {
	data, err := s.store.Load(threadID)
	if err != nil {
		return nil, err
	}

	state, err := protocol.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt checkpoint for thread %s: %w", threadID, err)
	}
	if err := state.Validate(s.limits); err != nil {
		return nil, fmt.Errorf("checkpoint for thread %s failed validation: %w", threadID, err)
	}
	return state, nil
}

// HasCheckpoint reports whether the thread has a stored snapshot.
func (s *Service) HasCheckpoint(threadID string) bool {
	ok, err := s.store.Has(threadID)
	if err != nil {
		s.logger.Warn("checkpoint existence check failed", "thread_id", threadID, "error", err)
		return false
	}
	return ok
}

// ValidateState checks a state against the configured limits.
func (s *Service) ValidateState(state *protocol.WorkflowState) error {
	return state.Validate(s.limits)
}

func (s *Service) threadLock(threadID string) *sync.Mutex {
	s.threadMu.Lock()
	defer s.threadMu.Unlock()

	lock, ok := s.threads[threadID]
	if !ok {
		lock = &sync.Mutex{}
		s.threads[threadID] = lock
	}
	return lock
}
