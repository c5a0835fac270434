// Package sessionstore is the Session Manager component (§4.3): durable
// (fromTeam, toTeam) -> sessionId mapping, backed by an embedded relational
// store, grounded on the teacher's task/repository SQLiteRepository
// (mattn/go-sqlite3, single-writer connection pool, idempotent initSchema).
package sessionstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/irisrun/iris/internal/apperr"
)

// Status is a Session's durable lifecycle state (§3).
type Status string

const (
	StatusActive         Status = "active"
	StatusCompacting     Status = "compacting"
	StatusCompactPending Status = "compact_pending"
	StatusArchived       Status = "archived"
	StatusError          Status = "error"
)

// ProcessState is a Session's runtime intent, reset to Stopped on every
// process start (§4.3 "Startup recovery").
type ProcessState string

const (
	ProcessStopped    ProcessState = "stopped"
	ProcessSpawning   ProcessState = "spawning"
	ProcessIdle       ProcessState = "idle"
	ProcessProcessing ProcessState = "processing"
	ProcessTerminating ProcessState = "terminating"
)

// Session is the durable row for one (fromTeam, toTeam) pair (§3).
type Session struct {
	SessionID             string
	FromTeam              string
	ToTeam                string
	Status                Status
	ProcessState          ProcessState
	MessageCount          int64
	CreatedAt             time.Time
	LastUsedAt            time.Time
	LastResponseAt        time.Time
	CurrentCacheSessionID string
}

// Store is the embedded relational store backing Session rows.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a WAL-mode SQLite database at dbPath
// and initializes its schema. A single connection is kept since SQLite
// only supports one writer at a time (mirrors the teacher's
// SetMaxOpenConns(1) convention).
func Open(dbPath string) (*Store, error) {
	if dbPath != "" && dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, apperr.Internal(err, "sessionstore: prepare database directory")
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperr.Internal(err, "sessionstore: open database")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, apperr.Internal(err, "sessionstore: initialize schema")
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		from_team TEXT NOT NULL,
		to_team TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		process_state TEXT NOT NULL DEFAULT 'stopped',
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		last_used_at DATETIME NOT NULL,
		last_response_at DATETIME,
		current_cache_session_id TEXT DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_pair ON sessions(from_team, to_team);
	CREATE INDEX IF NOT EXISTS idx_sessions_to_team ON sessions(to_team);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ResetRuntimeState performs §4.3's startup recovery: reset every
// process_state to stopped and clear current_cache_session_id, without
// touching durable session identities.
func (s *Store) ResetRuntimeState(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET process_state = ?, current_cache_session_id = ''
	`, ProcessStopped)
	return err
}

// GetByPair returns the session for (fromTeam, toTeam), or sql.ErrNoRows if
// none exists.
func (s *Store) GetByPair(ctx context.Context, fromTeam, toTeam string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, from_team, to_team, status, process_state, message_count,
		       created_at, last_used_at, last_response_at, current_cache_session_id
		FROM sessions WHERE from_team = ? AND to_team = ?
	`, fromTeam, toTeam)
	return scanSession(row)
}

// GetByID returns the session with the given id, or sql.ErrNoRows if none
// exists.
func (s *Store) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, from_team, to_team, status, process_state, message_count,
		       created_at, last_used_at, last_response_at, current_cache_session_id
		FROM sessions WHERE session_id = ?
	`, sessionID)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var lastResponseAt sql.NullTime
	var currentCacheSessionID sql.NullString
	err := row.Scan(
		&sess.SessionID, &sess.FromTeam, &sess.ToTeam, &sess.Status, &sess.ProcessState,
		&sess.MessageCount, &sess.CreatedAt, &sess.LastUsedAt, &lastResponseAt, &currentCacheSessionID,
	)
	if err != nil {
		return nil, err
	}
	if lastResponseAt.Valid {
		sess.LastResponseAt = lastResponseAt.Time
	}
	sess.CurrentCacheSessionID = currentCacheSessionID.String
	return &sess, nil
}

// Create inserts a brand-new session row with status=active,
// processState=stopped, messageCount=0 (§4.3 step 4).
func (s *Store) Create(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	sess.Status = StatusActive
	sess.ProcessState = ProcessStopped
	sess.MessageCount = 0
	sess.CreatedAt = now
	sess.LastUsedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, from_team, to_team, status, process_state,
			message_count, created_at, last_used_at, last_response_at, current_cache_session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, '')
	`, sess.SessionID, sess.FromTeam, sess.ToTeam, sess.Status, sess.ProcessState,
		sess.MessageCount, sess.CreatedAt, sess.LastUsedAt)
	return err
}

// TouchUsage bumps lastUsedAt, lastResponseAt, and messageCount after a
// completed request.
func (s *Store) TouchUsage(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET last_used_at = ?, last_response_at = ?, message_count = message_count + 1
		WHERE session_id = ?
	`, now, now, sessionID)
	return err
}

// SetProcessState updates a session's processState column. This only
// records runtime intent; currentCacheSessionId is cleared separately, at
// startup recovery (ResetRuntimeState), not on every stopped transition.
func (s *Store) SetProcessState(ctx context.Context, sessionID string, state ProcessState) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET process_state = ? WHERE session_id = ?
	`, state, sessionID)
	return err
}

// SetCurrentCacheSessionID records which in-flight cache entry a session's
// transport currently holds (empty string clears it).
func (s *Store) SetCurrentCacheSessionID(ctx context.Context, sessionID, cacheSessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET current_cache_session_id = ? WHERE session_id = ?
	`, cacheSessionID, sessionID)
	return err
}

// SetStatus updates a session's durable lifecycle status.
func (s *Store) SetStatus(ctx context.Context, sessionID string, status Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ? WHERE session_id = ?
	`, status, sessionID)
	return err
}

// Delete removes a session row explicitly (§3: "deleted explicitly").
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

// ListByToTeam returns every session targeting toTeam, ordered by
// lastUsedAt descending.
func (s *Store) ListByToTeam(ctx context.Context, toTeam string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, from_team, to_team, status, process_state, message_count,
		       created_at, last_used_at, last_response_at, current_cache_session_id
		FROM sessions WHERE to_team = ? ORDER BY last_used_at DESC
	`, toTeam)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var lastResponseAt sql.NullTime
		var currentCacheSessionID sql.NullString
		if err := rows.Scan(
			&sess.SessionID, &sess.FromTeam, &sess.ToTeam, &sess.Status, &sess.ProcessState,
			&sess.MessageCount, &sess.CreatedAt, &sess.LastUsedAt, &lastResponseAt, &currentCacheSessionID,
		); err != nil {
			return nil, err
		}
		if lastResponseAt.Valid {
			sess.LastResponseAt = lastResponseAt.Time
		}
		sess.CurrentCacheSessionID = currentCacheSessionID.String
		out = append(out, &sess)
	}
	return out, rows.Err()
}
