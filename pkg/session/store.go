// Package session provides the durable identity of a task across restarts:
// session records, checkpoint persistence keyed by thread id, and resume
// validation. Backends sit behind the Store interface; the engine treats
// the file and SQL implementations identically.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoCheckpoint is returned when a thread id has no stored snapshot.
var ErrNoCheckpoint = errors.New("no checkpoint for thread")

// Store is the opaque key-value checkpoint backend. Keys are thread ids,
// values are serialized state. Save is all-or-nothing: a failed write must
// leave the previous snapshot intact.
type Store interface {
	Save(threadID string, data []byte) error
	Load(threadID string) ([]byte, error)
	Has(threadID string) (bool, error)
	Delete(threadID string) error
	Close() error
}

// FileStore keeps one snapshot file per thread id under a root directory.
// Intended for single-process use.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("file store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(threadID string) string {
	return filepath.Join(s.root, sanitizeThreadID(threadID)+".json")
}

// Save writes the snapshot with write-new-then-swap semantics: the data
// lands in a temp file first and replaces the old snapshot atomically.
func (s *FileStore) Save(threadID string, data []byte) error {
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}

	target := s.path(threadID)
	tmp, err := os.CreateTemp(s.root, ".ckpt-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to swap checkpoint: %w", err)
	}
	return nil
}

// Load returns the most recent snapshot for the thread.
func (s *FileStore) Load(threadID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(threadID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return data, nil
}

// Has reports whether a snapshot exists for the thread.
func (s *FileStore) Has(threadID string) (bool, error) {
	_, err := os.Stat(s.path(threadID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the thread's snapshot if present.
func (s *FileStore) Delete(threadID string) error {
	err := os.Remove(s.path(threadID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

// sanitizeThreadID keeps thread-derived file names flat and portable.
func sanitizeThreadID(threadID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, threadID)
}
