// Package history journals observing sessions: one row per instance placed
// under observation, closed when the automator stops watching it.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/commensal-automator/model"
)

// Reasons recorded when a session ends.
const (
	ReasonRecordingFinished = "recording_finished"
	ReasonOffSource         = "off_source"
	ReasonRestart           = "restart"
)

// Session is one journal row.
type Session struct {
	ID        string
	Instance  model.Instance
	Source    string
	StartedAt time.Time
	EndedAt   time.Time // zero while open
	Reason    string
}

// Open reports whether the session has not ended.
func (s Session) Open() bool { return s.EndedAt.IsZero() }

// Store persists sessions in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    instance   TEXT NOT NULL,
    source     TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    ended_at   TEXT,
    reason     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(instance) WHERE ended_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`

// Open initializes or connects to the journal database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Begin opens a session for inst and returns its id.
func (s *Store) Begin(ctx context.Context, inst model.Instance, source string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, instance, source, started_at) VALUES (?, ?, ?, ?)`,
		id, string(inst), source, formatTime(s.now()),
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// End closes every open session for inst and returns how many it closed.
func (s *Store) End(ctx context.Context, inst model.Instance, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, reason = ? WHERE instance = ? AND ended_at IS NULL`,
		formatTime(s.now()), reason, string(inst),
	)
	if err != nil {
		return 0, fmt.Errorf("end session: %w", err)
	}
	return res.RowsAffected()
}

// EndAll closes every open session, used on startup to settle sessions
// left open by a previous process.
func (s *Store) EndAll(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, reason = ? WHERE ended_at IS NULL`,
		formatTime(s.now()), reason,
	)
	if err != nil {
		return 0, fmt.Errorf("end open sessions: %w", err)
	}
	return res.RowsAffected()
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instance, source, started_at, ended_at, reason
         FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess     Session
			inst     string
			started  string
			ended    sql.NullString
			parseErr error
		)
		if err := rows.Scan(&sess.ID, &inst, &sess.Source, &started, &ended, &sess.Reason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Instance = model.Instance(inst)
		if sess.StartedAt, parseErr = parseTime(started); parseErr != nil {
			return nil, parseErr
		}
		if ended.Valid {
			if sess.EndedAt, parseErr = parseTime(ended.String); parseErr != nil {
				return nil, parseErr
			}
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// timeLayout is fixed-width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}
