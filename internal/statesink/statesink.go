// Package statesink persists gateway snapshots to a local SQLite database so
// out-of-process consumers (widgets, status bars, home surfaces) can read the
// latest state without talking to the gateway themselves.
package statesink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/agentbridge/internal/gateway"
	"github.com/codefionn/agentbridge/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshot_latest (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	captured INTEGER NOT NULL,
	body     TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_history (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	captured INTEGER NOT NULL,
	body     TEXT    NOT NULL
);
`

// Store writes snapshots to SQLite. The latest row is replaced in place;
// history keeps a bounded trail for debugging missed transitions.
type Store struct {
	db     *sql.DB
	log    *logger.Logger
	keep   int
	mu     sync.Mutex
	writes uint64
}

// Open creates or opens the database at path. keep bounds the history table;
// keep <= 0 disables history entirely.
func Open(path string, keep int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init state schema: %w", err)
	}
	return &Store{
		db:   db,
		log:  logger.Global().WithPrefix("statesink"),
		keep: keep,
	}, nil
}

// Write persists one snapshot. Implements the gateway state sink contract:
// failures are logged, never propagated, because snapshot externalization
// must not disturb the connection.
func (s *Store) Write(snap gateway.Snapshot) {
	body, err := json.Marshal(snap)
	if err != nil {
		s.log.Error("marshal snapshot: %v", err)
		return
	}
	captured := snap.CapturedAt.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO snapshot_latest (id, captured, body) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET captured = excluded.captured, body = excluded.body`,
		captured, string(body))
	if err != nil {
		s.log.Warn("write latest snapshot: %v", err)
		return
	}

	if s.keep <= 0 {
		return
	}
	if _, err := s.db.Exec(
		`INSERT INTO snapshot_history (captured, body) VALUES (?, ?)`,
		captured, string(body)); err != nil {
		s.log.Warn("append snapshot history: %v", err)
		return
	}
	s.writes++
	// Trim occasionally rather than on every write.
	if s.writes%32 == 0 {
		if _, err := s.db.Exec(
			`DELETE FROM snapshot_history WHERE seq <= (
				SELECT seq FROM snapshot_history ORDER BY seq DESC LIMIT 1 OFFSET ?
			)`, s.keep); err != nil {
			s.log.Warn("trim snapshot history: %v", err)
		}
	}
}

// Latest returns the most recent snapshot, or false when none was written.
func (s *Store) Latest() (gateway.Snapshot, bool, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM snapshot_latest WHERE id = 1`).Scan(&body)
	if err == sql.ErrNoRows {
		return gateway.Snapshot{}, false, nil
	}
	if err != nil {
		return gateway.Snapshot{}, false, err
	}
	var snap gateway.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return gateway.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
