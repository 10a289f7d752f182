package task

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id          TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	prompt          TEXT NOT NULL,
	title           TEXT NOT NULL,
	duration_ms     INTEGER NOT NULL,
	interval_ms     INTEGER NOT NULL,
	started_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);
`

// Store persists one row per active job so tasks survive restarts.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the job database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return NewStoreWithDB(db)
}

// NewStoreWithDB wraps an already-open database handle.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init job store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts the job record.
func (s *Store) Create(j *Job) error {
	_, err := s.db.Exec(
		`INSERT INTO jobs (job_id, user_id, conversation_id, prompt, title, duration_ms, interval_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Config.UserID, j.Config.ConversationID, j.Config.Prompt, j.Config.Title,
		j.Config.Duration.Milliseconds(), j.Config.Interval.Milliseconds(),
		j.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("persist job %s: %w", j.ID, err)
	}
	return nil
}

// Delete removes the job record. Deleting an absent row is not an error.
func (s *Store) Delete(jobID string) error {
	if _, err := s.db.Exec(`DELETE FROM jobs WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// List returns all persisted jobs.
func (s *Store) List() ([]*Job, error) {
	rows, err := s.db.Query(
		`SELECT job_id, user_id, conversation_id, prompt, title, duration_ms, interval_ms, started_at
		 FROM jobs ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var (
			j                      Job
			durationMS, intervalMS int64
			startedAt              string
		)
		if err := rows.Scan(&j.ID, &j.Config.UserID, &j.Config.ConversationID,
			&j.Config.Prompt, &j.Config.Title, &durationMS, &intervalMS, &startedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		j.Config.Duration = time.Duration(durationMS) * time.Millisecond
		j.Config.Interval = time.Duration(intervalMS) * time.Millisecond
		ts, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse job %s start time: %w", j.ID, err)
		}
		j.StartedAt = ts
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}
