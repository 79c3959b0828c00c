package cron

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HistoryStore records job firings in the cron_history table.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore creates a history store over an already migrated database.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

const historyColumns = `id, job_name, session_id, message_id, started_at, status, error`

// Create inserts entry and sets its ID.
func (s *HistoryStore) Create(entry *HistoryEntry) error {
	result, err := s.db.Exec(`
		INSERT INTO cron_history (job_name, session_id, message_id, started_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.JobName, entry.SessionID, entry.MessageID, entry.StartedAt.UnixMilli(),
		entry.Status, entry.Error)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// Get retrieves a history entry by ID.
func (s *HistoryStore) Get(id int64) (*HistoryEntry, error) {
	row := s.db.QueryRow(`SELECT `+historyColumns+` FROM cron_history WHERE id = ?`, id)
	entry, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHistoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return entry, nil
}

// List returns the newest entries across all jobs.
func (s *HistoryStore) List(limit int) ([]*HistoryEntry, error) {
	return s.query(`SELECT `+historyColumns+` FROM cron_history ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
}

// ListByJob returns the newest entries of one job.
func (s *HistoryStore) ListByJob(jobName string, limit int) ([]*HistoryEntry, error) {
	return s.query(`SELECT `+historyColumns+` FROM cron_history WHERE job_name = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, jobName, limit)
}

// Cleanup keeps the newest keep entries of jobName and deletes the rest.
func (s *HistoryStore) Cleanup(jobName string, keep int) (int64, error) {
	var thresholdID int64
	err := s.db.QueryRow(`
		SELECT id FROM cron_history
		WHERE job_name = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1 OFFSET ?`, jobName, keep).Scan(&thresholdID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get threshold id: %w", err)
	}

	result, err := s.db.Exec(`DELETE FROM cron_history WHERE job_name = ? AND id <= ?`, jobName, thresholdID)
	if err != nil {
		return 0, fmt.Errorf("delete old history: %w", err)
	}
	return result.RowsAffected()
}

func (s *HistoryStore) query(q string, args ...any) ([]*HistoryEntry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanHistory(sc scanner) (*HistoryEntry, error) {
	var (
		entry   HistoryEntry
		started int64
	)
	if err := sc.Scan(&entry.ID, &entry.JobName, &entry.SessionID, &entry.MessageID,
		&started, &entry.Status, &entry.Error); err != nil {
		return nil, err
	}
	entry.StartedAt = time.UnixMilli(started)
	return &entry, nil
}
