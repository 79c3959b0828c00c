package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"conduit/internal/approval"
)

var _ approval.Recorder = (*DB)(nil)

// ApprovalRecord is a stored request with its decision, if one was made.
type ApprovalRecord struct {
	Request approval.Request `json:"request"`
	Result  *approval.Result `json:"result,omitempty"`
}

// RecordRequest stores a newly created request.
func (db *DB) RecordRequest(req *approval.Request) error {
	var metadata sql.NullString
	if len(req.Metadata) > 0 {
		data, err := json.Marshal(req.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO approvals (id, type, session_id, timeout_ms, created_at, expires_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Type, req.SessionID, req.Timeout.Milliseconds(),
		req.CreatedAt.UnixMilli(), req.ExpiresAt.UnixMilli(), metadata,
	)
	return err
}

// RecordDecision stores the terminal decision of a request. Only the first
// decision for an id is kept.
func (db *DB) RecordDecision(req *approval.Request, result *approval.Result) error {
	res, err := db.Exec(`
		UPDATE approvals SET decision = ?, decided_by = ?, note = ?, decided_at = ?
		WHERE id = ? AND decision IS NULL`,
		string(result.Decision), result.DecidedBy, result.Note, result.DecidedAt.UnixMilli(),
		req.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const approvalColumns = `id, type, session_id, timeout_ms, created_at, expires_at, metadata,
	decision, decided_by, note, decided_at`

// GetApproval returns one stored request.
func (db *DB) GetApproval(id string) (*ApprovalRecord, error) {
	row := db.QueryRow("SELECT "+approvalColumns+" FROM approvals WHERE id = ?", id)
	rec, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListApprovals returns the newest requests first. An empty sessionID lists
// every session; limit <= 0 means no limit.
func (db *DB) ListApprovals(sessionID string, limit int) ([]*ApprovalRecord, error) {
	query := "SELECT " + approvalColumns + " FROM approvals"
	var args []any
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY created_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ApprovalRecord
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApproval(s scanner) (*ApprovalRecord, error) {
	var (
		rec                         ApprovalRecord
		timeoutMs, created, expires int64
		metadata                    sql.NullString
		decision, decidedBy, note   sql.NullString
		decidedAt                   sql.NullInt64
	)
	err := s.Scan(
		&rec.Request.ID, &rec.Request.Type, &rec.Request.SessionID,
		&timeoutMs, &created, &expires, &metadata,
		&decision, &decidedBy, &note, &decidedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Request.Timeout = time.Duration(timeoutMs) * time.Millisecond
	rec.Request.CreatedAt = time.UnixMilli(created)
	rec.Request.ExpiresAt = time.UnixMilli(expires)
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Request.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if decision.Valid {
		rec.Result = &approval.Result{
			RequestID: rec.Request.ID,
			SessionID: rec.Request.SessionID,
			Decision:  approval.Decision(decision.String),
			DecidedBy: decidedBy.String,
			Note:      note.String,
			DecidedAt: time.UnixMilli(decidedAt.Int64),
		}
	}
	return &rec, nil
}
