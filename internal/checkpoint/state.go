package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTime = "2006-01-02 15:04:05"

// State records extraction runs in SQLite
type State struct {
	db *sql.DB
}

// Run represents an extraction run
type Run struct {
	ID          string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string // running, success, partial, failed, aborted
	Phase       string
	SourceType  string
	Catalog     string
	OutputDir   string
	Config      string
	ProfileName string
	ConfigPath  string
	Rows        int64
	Error       string
}

// EntryRecord is the stored outcome of one catalog line
type EntryRecord struct {
	RunID      string
	Line       int
	Name       string
	Status     string // success, failed, skipped
	Rows       int64
	Chunks     []string
	Documents  int64
	FailedDocs int64
	Error      string
	RecordedAt time.Time
}

// New opens (or creates) the run history in dataDir
func New(dataDir string) (*State, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		phase TEXT NOT NULL DEFAULT 'init',
		source_type TEXT NOT NULL,
		catalog TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		config TEXT,
		profile_name TEXT,
		config_path TEXT,
		rows INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT REFERENCES runs(id),
		line INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		rows INTEGER NOT NULL DEFAULT 0,
		chunks TEXT,
		documents INTEGER NOT NULL DEFAULT 0,
		failed_docs INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		name TEXT PRIMARY KEY,
		description TEXT,
		config_enc BLOB NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_run ON entries(run_id, line);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *State) Close() error {
	return s.db.Close()
}

// CreateRun starts a new run record. The config is stored as JSON.
func (s *State) CreateRun(r Run, config any) error {
	configJSON, _ := json.Marshal(config)
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, status, phase, source_type, catalog, output_dir, config, profile_name, config_path)
		VALUES (?, ?, 'running', 'init', ?, ?, ?, ?, ?, ?)
	`, r.ID, r.StartedAt.UTC().Format(sqliteTime), r.SourceType, r.Catalog, r.OutputDir,
		string(configJSON), r.ProfileName, r.ConfigPath)
	return err
}

// UpdatePhase records the run phase for the status command
func (s *State) UpdatePhase(runID, phase string) error {
	_, err := s.db.Exec(`UPDATE runs SET phase = ? WHERE id = ?`, phase, runID)
	return err
}

// CompleteRun marks a run finished
func (s *State) CompleteRun(id, status string, rows int64, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = datetime('now'), rows = ?, error = ?
		WHERE id = ?
	`, status, rows, errorMsg, id)
	return err
}

// RecordEntry stores the outcome of one catalog line
func (s *State) RecordEntry(e EntryRecord) error {
	chunks, _ := json.Marshal(e.Chunks)
	_, err := s.db.Exec(`
		INSERT INTO entries (run_id, line, name, status, rows, chunks, documents, failed_docs, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
	`, e.RunID, e.Line, e.Name, e.Status, e.Rows, string(chunks), e.Documents, e.FailedDocs, e.Error)
	return err
}

const runColumns = `id, started_at, completed_at, status, phase, source_type, catalog, output_dir,
	COALESCE(profile_name, ''), COALESCE(config_path, ''), rows, COALESCE(error, '')`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var startedAt string
	var completedAt sql.NullString
	if err := sc.Scan(&r.ID, &startedAt, &completedAt, &r.Status, &r.Phase, &r.SourceType, &r.Catalog,
		&r.OutputDir, &r.ProfileName, &r.ConfigPath, &r.Rows, &r.Error); err != nil {
		return nil, err
	}
	r.StartedAt, _ = time.Parse(sqliteTime, startedAt)
	if completedAt.Valid {
		t, _ := time.Parse(sqliteTime, completedAt.String)
		r.CompletedAt = &t
	}
	return &r, nil
}

// GetLastRun returns the most recent run, or nil when there is none
func (s *State) GetLastRun() (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// GetRunByID returns a run with its stored config, or nil when it does not exist
func (s *State) GetRunByID(runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRow(`SELECT COALESCE(config, '') FROM runs WHERE id = ?`, runID).Scan(&r.Config)
	return r, err
}

// GetAllRuns returns the 20 most recent runs
func (s *State) GetAllRuns() ([]Run, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 20`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetEntries returns the recorded entries of a run in catalog order
func (s *State) GetEntries(runID string) ([]EntryRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, line, name, status, rows, COALESCE(chunks, ''), documents, failed_docs, COALESCE(error, ''), recorded_at
		FROM entries WHERE run_id = ? ORDER BY line, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntryRecord
	for rows.Next() {
		var e EntryRecord
		var chunks, recordedAt string
		if err := rows.Scan(&e.RunID, &e.Line, &e.Name, &e.Status, &e.Rows, &chunks,
			&e.Documents, &e.FailedDocs, &e.Error, &recordedAt); err != nil {
			return nil, err
		}
		if chunks != "" {
			_ = json.Unmarshal([]byte(chunks), &e.Chunks)
		}
		e.RecordedAt, _ = time.Parse(sqliteTime, recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetRunStats returns entry counts for a run
func (s *State) GetRunStats(runID string) (total, success, failed, skipped int, err error) {
	err = s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0)
		FROM entries WHERE run_id = ?
	`, runID).Scan(&total, &success, &failed, &skipped)
	return
}

// CleanupOldRuns deletes finished runs (and their entries) completed before
// the retention window. Running runs are kept.
func (s *State) CleanupOldRuns(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(sqliteTime)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM entries WHERE run_id IN (
			SELECT id FROM runs WHERE status != 'running' AND completed_at IS NOT NULL AND completed_at < ?
		)`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE status != 'running' AND completed_at IS NOT NULL AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}
