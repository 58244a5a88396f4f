// Package state provides SQLite-based persistence for Mission Control.
// The jobs table is the single source of truth; every component reads
// and writes it directly.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	// DriverSQLite is the pure-Go modernc driver.
	DriverSQLite = "sqlite"
	// DriverSQLite3 is the cgo mattn driver.
	DriverSQLite3 = "sqlite3"
)

// Sentinel errors returned by store operations.
var (
	// ErrClaimConflict means another caller transitioned the job first.
	ErrClaimConflict = errors.New("claim conflict")
	// ErrNoQueuedJobs means there was nothing to claim.
	ErrNoQueuedJobs = errors.New("no queued jobs")
	// ErrNotFound means the referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means the status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrBoardDecided means the board is already in its terminal state.
	ErrBoardDecided = errors.New("board already decided")
)

// DB wraps an SQLite database connection with Mission Control operations.
type DB struct {
	conn   *sql.DB
	path   string
	driver string
}

// DefaultDBPath returns the path to the default database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "missioncontrol", "mc.db")
}

// Open opens an SQLite database at the given path using the pure-Go driver.
func Open(path string) (*DB, error) {
	return OpenWithDriver(DriverSQLite, path)
}

// OpenWithDriver opens an SQLite database with the named driver.
// It creates the parent directories if they don't exist.
// WAL mode is enabled so readers do not block the scheduler.
func OpenWithDriver(driver, path string) (*DB, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverSQLite3 {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection per process. Cross-process exclusion comes from
	// SQLite's own locking plus the conditional claim update.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &DB{conn: conn, path: path, driver: driver}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// Ping verifies the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Jobs},
		{2, migrationV2Agents},
		{3, migrationV3Projects},
		{4, migrationV4Settings},
		{5, migrationV5Reviews},
		{6, migrationV6Boards},
		{7, migrationV7Notifications},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Jobs = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	job_type TEXT NOT NULL DEFAULT 'task',
	engine TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'queued',
	priority INTEGER NOT NULL DEFAULT 5,
	parent_job_id TEXT REFERENCES jobs(id),
	agent_id TEXT,
	project_id TEXT,
	board_id TEXT,
	prompt_text TEXT NOT NULL DEFAULT '',
	command TEXT NOT NULL DEFAULT '',
	tools TEXT NOT NULL DEFAULT '[]',
	result TEXT NOT NULL DEFAULT '',
	last_run_json TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	quality_score INTEGER,
	review_notes TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	evidence_hash TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_parent ON jobs(parent_job_id);
CREATE INDEX IF NOT EXISTS idx_jobs_board ON jobs(board_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_integration
	ON jobs(parent_job_id) WHERE job_type = 'integration';
`

const migrationV2Agents = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL DEFAULT '',
	department TEXT NOT NULL DEFAULT '',
	persona TEXT NOT NULL DEFAULT '',
	engine TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	quality_score_avg REAL NOT NULL DEFAULT 0,
	reviews_count INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS agent_skills (
	agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	usage TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (agent_id, name)
);
`

const migrationV3Projects = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	overview TEXT NOT NULL DEFAULT '',
	milestones TEXT NOT NULL DEFAULT '[]',
	acceptance_criteria TEXT NOT NULL DEFAULT '[]',
	constraints TEXT NOT NULL DEFAULT '[]'
);
`

const migrationV4Settings = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES
	('version', '1', '1970-01-01T00:00:00.000000000Z'),
	('pause_all', 'false', '1970-01-01T00:00:00.000000000Z'),
	('max_concurrency', '1', '1970-01-01T00:00:00.000000000Z'),
	('parallel_jobs', '1', '1970-01-01T00:00:00.000000000Z');
`

const migrationV5Reviews = `
CREATE TABLE IF NOT EXISTS qa_reviews (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs(id),
	review_job_id TEXT NOT NULL REFERENCES jobs(id),
	agent_id TEXT,
	completeness INTEGER NOT NULL,
	accuracy INTEGER NOT NULL,
	actionability INTEGER NOT NULL,
	revenue_relevance INTEGER NOT NULL,
	evidence INTEGER NOT NULL,
	total INTEGER NOT NULL,
	passed INTEGER NOT NULL,
	feedback TEXT NOT NULL DEFAULT '',
	malformed INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_qa_reviews_job ON qa_reviews(job_id);
`

const migrationV6Boards = `
CREATE TABLE IF NOT EXISTS challenge_boards (
	id TEXT PRIMARY KEY,
	decision_title TEXT NOT NULL,
	decision_context TEXT NOT NULL DEFAULT '',
	options TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'deliberating',
	final_decision TEXT NOT NULL DEFAULT '',
	rationale TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	decided_at TEXT
);

CREATE TABLE IF NOT EXISTS challenge_responses (
	id TEXT PRIMARY KEY,
	board_id TEXT NOT NULL REFERENCES challenge_boards(id),
	agent_name TEXT NOT NULL,
	perspective TEXT NOT NULL DEFAULT '',
	position TEXT NOT NULL,
	argument TEXT NOT NULL DEFAULT '',
	risk_flags TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_challenge_responses_board ON challenge_responses(board_id);
`

const migrationV7Notifications = `
CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	job_id TEXT,
	kind TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	read INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// now is replaced in tests that need deterministic ordering.
var now = time.Now

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
