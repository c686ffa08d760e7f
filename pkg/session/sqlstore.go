package session

import (
	"database/sql"
	"fmt"
	"time"

	// Supported checkpoint database drivers.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Backend names a supported SQL checkpoint backend.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgresql"
)

// SQLStore persists checkpoints in a relational database, suitable for
// multi-process deployments. One row per thread id, updated in place.
type SQLStore struct {
	db      *sql.DB
	backend Backend
}

// NewSQLStore opens the database and ensures the checkpoints table exists.
// dsn is a file path for sqlite or a connection string for postgresql.
func NewSQLStore(backend Backend, dsn string) (*SQLStore, error) {
	var driver string
	switch backend {
	case BackendSQLite:
		driver = "sqlite3"
	case BackendPostgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend %q", backend)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	s := &SQLStore{db: db, backend: backend}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	var stmt string
	switch s.backend {
	case BackendPostgres:
		stmt = `CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT PRIMARY KEY,
			state BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`
	default:
		stmt = `CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT PRIMARY KEY,
			state BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`
	}
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

// rebind converts ?-style placeholders to the backend's syntax.
func (s *SQLStore) rebind(query string) string {
	if s.backend != BackendPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// Save upserts the snapshot for the thread. The row swap is a single
// statement, so a failed write leaves the previous snapshot intact.
func (s *SQLStore) Save(threadID string, data []byte) error {
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}
	query := s.rebind(`INSERT INTO checkpoints (thread_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`)
	if _, err := s.db.Exec(query, threadID, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the snapshot for the thread.
func (s *SQLStore) Load(threadID string) ([]byte, error) {
	var data []byte
	query := s.rebind(`SELECT state FROM checkpoints WHERE thread_id = ?`)
	err := s.db.QueryRow(query, threadID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return data, nil
}

// Has reports whether a snapshot exists for the thread.
func (s *SQLStore) Has(threadID string) (bool, error) {
	var one int
	query := s.rebind(`SELECT 1 FROM checkpoints WHERE thread_id = ?`)
	err := s.db.QueryRow(query, threadID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the thread's snapshot.
func (s *SQLStore) Delete(threadID string) error {
	query := s.rebind(`DELETE FROM checkpoints WHERE thread_id = ?`)
	_, err := s.db.Exec(query, threadID)
	return err
}

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }
