// Package history keeps the local record of completed uploads.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record has the given task ID.
var ErrNotFound = errors.New("report not found")

// UploadedRetention is how long a file name stays in the uploaded-log tracker.
const UploadedRetention = 72 * time.Hour

// Record is one successful upload, or one report built from a processed
// batch. Uploads into a batch have no link until the batch is processed.
type Record struct {
	TaskID     string    `json:"task_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	UploadedAt time.Time `json:"uploaded_at"`
	Link       string    `json:"link"`
	ReportID   string    `json:"report_id,omitempty"`
}

// Store is an append-only report history backed by sqlite.
// Reads are served from memory; every write goes to the database first.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	records []Record
	logger  *zap.Logger
	now     func() time.Time
}

// Open opens (or creates) the history database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load history: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		task_id     TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL DEFAULT '',
		path        TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL DEFAULT '',
		uploaded_at INTEGER NOT NULL,
		link        TEXT NOT NULL,
		report_id   TEXT NOT NULL DEFAULT '',
		seq         INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS uploaded_logs (
		name        TEXT PRIMARY KEY,
		uploaded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_uploaded ON reports(uploaded_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) load() error {
	rows, err := s.db.Query(
		"SELECT task_id, session_id, path, name, uploaded_at, link, report_id FROM reports ORDER BY seq ASC",
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var uploaded int64
		if err := rows.Scan(&r.TaskID, &r.SessionID, &r.Path, &r.Name, &uploaded, &r.Link, &r.ReportID); err != nil {
			return err
		}
		r.UploadedAt = time.Unix(0, uploaded)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.records = records
	return nil
}

// Append adds a record. Records for a local file also mark its name as uploaded.
func (s *Store) Append(r Record) error {
	if r.TaskID == "" || (r.Link == "" && r.Path == "") {
		return fmt.Errorf("report needs a task id and a link or log path")
	}
	if r.UploadedAt.IsZero() {
		r.UploadedAt = s.now()
	}
	if r.Name == "" && r.Path != "" {
		r.Name = filepath.Base(r.Path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO reports (task_id, session_id, path, name, uploaded_at, link, report_id, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM reports))`,
		r.TaskID, r.SessionID, r.Path, r.Name, r.UploadedAt.UnixNano(), r.Link, r.ReportID,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	if r.Path != "" {
		_, err = tx.Exec(
			"INSERT INTO uploaded_logs (name, uploaded_at) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET uploaded_at = excluded.uploaded_at",
			r.Name, r.UploadedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("track uploaded log: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.records = append(s.records, r)
	return nil
}

// List returns all records, newest first.
func (s *Store) List() []Record {
	s.mu.RLock()
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[len(s.records)-1-i] = r
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out
}

// Get returns the record for a task.
func (s *Store) Get(taskID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.TaskID == taskID {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
}

// Remove deletes a single record. The uploaded-log tracker is left alone.
func (s *Store) Remove(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, r := range s.records {
		if r.TaskID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}

	if _, err := s.db.Exec("DELETE FROM reports WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	return nil
}

// Clear removes every record and returns how many there were.
func (s *Store) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM reports"); err != nil {
		return 0, fmt.Errorf("clear reports: %w", err)
	}
	n := len(s.records)
	s.records = nil
	return n, nil
}

// Uploaded reports whether a log with this file name was uploaded before.
func (s *Store) Uploaded(name string) bool {
	var exists int
	err := s.db.QueryRow("SELECT 1 FROM uploaded_logs WHERE name = ?", name).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.Error("uploaded-log lookup failed", zap.String("name", name), zap.Error(err))
	}
	return err == nil
}

// UploadedNames returns the set of tracked file names.
func (s *Store) UploadedNames() (map[string]time.Time, error) {
	rows, err := s.db.Query("SELECT name, uploaded_at FROM uploaded_logs")
	if err != nil {
		return nil, fmt.Errorf("query uploaded logs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var name string
		var uploaded int64
		if err := rows.Scan(&name, &uploaded); err != nil {
			return nil, err
		}
		out[name] = time.Unix(0, uploaded)
	}
	return out, rows.Err()
}

// PruneUploaded forgets tracked file names uploaded more than maxAge ago.
func (s *Store) PruneUploaded(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge).UnixNano()
	res, err := s.db.Exec("DELETE FROM uploaded_logs WHERE uploaded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune uploaded logs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned uploaded-log tracker", zap.Int64("removed", n))
	}
	return int(n), nil
}
