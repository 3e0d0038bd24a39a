package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
)

// Session statuses.
const (
	StatusRunning    = "running"
	StatusExited     = "exited"
	StatusTerminated = "terminated"
	StatusExpired    = "expired"
	StatusLost       = "lost"
)

// Job kinds.
const (
	JobCompile      = "compile"
	JobRun          = "run"
	JobRunMaintain  = "run-maintain"
	JobStatusOK     = "ok"
	JobStatusFailed = "failed"
	JobStatusError  = "error"
)

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Session is the persisted record of an interactive VM process.
type Session struct {
	ID           string     `json:"id"`
	Argv         []string   `json:"argv"`
	Transport    string     `json:"transport"`
	Status       string     `json:"status"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Job is the record of one compile or run request.
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	ExitCodes  []int     `json:"exit_codes"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	DurationMs int64     `json:"duration_ms"`
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	argv          TEXT NOT NULL,
	transport     TEXT NOT NULL DEFAULT 'pipe',
	status        TEXT NOT NULL DEFAULT 'running',
	exit_code     INTEGER,
	created_at    DATETIME NOT NULL,
	last_activity DATETIME NOT NULL,
	ended_at      DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT NOT NULL,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL,
	exit_codes  TEXT NOT NULL DEFAULT '[]',
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

// DefaultMaxOpenConns is the default connection pool size for concurrent reads.
// WAL mode allows multiple readers + 1 writer.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection.
func dsnWithPragmas(dbPath string) string {
	// busy_timeout: 15s wait on lock (session exit hooks + API + reaper overlap)
	// journal_mode=WAL: concurrent reads during writes
	// synchronous=NORMAL: safe in WAL
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"
}

// New opens the store. maxOpenConns controls the connection pool size (0 = default 4).
// An in-memory database is limited to one connection, since every connection
// would otherwise see its own empty database.
func New(dbPath string, maxOpenConns int) (*Store, error) {
	if dbPath == ":memory:" {
		maxOpenConns = 1
	}
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSession(sess *Session) error {
	argv, err := json.Marshal(sess.Argv)
	if err != nil {
		return fmt.Errorf("encoding argv: %w", err)
	}
	err = retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO sessions (id, argv, transport, status, exit_code, created_at, last_activity, ended_at)
			 VALUES (?, ?, ?, ?, NULL, ?, ?, NULL)`,
			sess.ID, string(argv), sess.Transport, sess.Status,
			sess.CreatedAt.UTC(), sess.LastActivity.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

const sessionColumns = `id, argv, transport, status, exit_code, created_at, last_activity, ended_at`

// GetSession returns nil and no error when the session does not exist.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *Store) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) ListRunningSessions() ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ?`, StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("listing running sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) UpdateSessionActivity(id string, at time.Time) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE sessions SET last_activity = ? WHERE id = ?`, at.UTC(), id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating session activity: %w", err)
	}
	return checkRowAffected(result, id)
}

// UpdateSessionStatus sets the status. Any status other than running also
// stamps ended_at and stores exitCode when known.
func (s *Store) UpdateSessionStatus(id string, status string, exitCode *int) error {
	var ended any
	if status != StatusRunning {
		ended = time.Now().UTC()
	}
	var code any
	if exitCode != nil {
		code = *exitCode
	}
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE sessions SET status = ?, exit_code = COALESCE(?, exit_code), ended_at = COALESCE(?, ended_at) WHERE id = ?`,
			status, code, ended, id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return checkRowAffected(result, id)
}

// MarkRunningAs moves every running session to status and returns how many rows changed.
func (s *Store) MarkRunningAs(status string) (int64, error) {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE sessions SET status = ?, ended_at = ? WHERE status = ?`,
			status, time.Now().UTC(), StatusRunning,
		)
		return e
	})
	if err != nil {
		return 0, fmt.Errorf("marking running sessions: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) RecordJob(job *Job) error {
	codes := job.ExitCodes
	if codes == nil {
		codes = []int{}
	}
	encoded, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("encoding exit codes: %w", err)
	}
	err = retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO jobs (id, kind, status, exit_codes, error, created_at, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Kind, job.Status, string(encoded), job.Error, job.CreatedAt.UTC(), job.DurationMs,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// ListJobs returns the most recent jobs first. limit <= 0 means 50.
func (s *Store) ListJobs(limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, kind, status, exit_codes, error, created_at, duration_ms
		 FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		var codes string
		if err := rows.Scan(&job.ID, &job.Kind, &job.Status, &codes, &job.Error, &job.CreatedAt, &job.DurationMs); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		if err := json.Unmarshal([]byte(codes), &job.ExitCodes); err != nil {
			return nil, fmt.Errorf("decoding exit codes: %w", err)
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*Session, error) {
	var sess Session
	var argv string
	var exitCode sql.NullInt64
	var endedAt sql.NullTime
	err := row.Scan(
		&sess.ID, &argv, &sess.Transport, &sess.Status, &exitCode,
		&sess.CreatedAt, &sess.LastActivity, &endedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if err := json.Unmarshal([]byte(argv), &sess.Argv); err != nil {
		return nil, fmt.Errorf("decoding argv: %w", err)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		sess.ExitCode = &code
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func checkRowAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return nil
}
