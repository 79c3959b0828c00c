package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"conduit/internal/todo"
)

var _ todo.Persister = (*DB)(nil)

// LoadTodos returns a session's todos ordered by position.
func (db *DB) LoadTodos(ctx context.Context, sessionID string) ([]todo.Todo, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, session_id, position, content, status, created_at, updated_at
		FROM todos WHERE session_id = ? ORDER BY position`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []todo.Todo
	for rows.Next() {
		var (
			t                todo.Todo
			status           string
			created, updated int64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Position, &t.Content, &status, &created, &updated); err != nil {
			return nil, err
		}
		t.Status = todo.Status(status)
		t.CreatedAt = time.UnixMilli(created)
		t.UpdatedAt = time.UnixMilli(updated)
		list = append(list, t)
	}
	return list, rows.Err()
}

// ReplaceTodos swaps a session's whole list in one transaction.
func (db *DB) ReplaceTodos(ctx context.Context, sessionID string, list []todo.Todo) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM todos WHERE session_id = ?", sessionID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO todos (id, session_id, position, content, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range list {
			if t.SessionID != sessionID {
				return fmt.Errorf("todo %s belongs to session %q, not %q", t.ID, t.SessionID, sessionID)
			}
			if _, err := stmt.ExecContext(ctx,
				t.ID, sessionID, t.Position, t.Content, string(t.Status),
				t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
			); err != nil {
				return fmt.Errorf("insert todo %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// UpdateTodo overwrites one stored todo.
func (db *DB) UpdateTodo(ctx context.Context, t todo.Todo) error {
	result, err := db.ExecContext(ctx, `
		UPDATE todos SET position = ?, content = ?, status = ?, updated_at = ?
		WHERE session_id = ? AND id = ?`,
		t.Position, t.Content, string(t.Status), t.UpdatedAt.UnixMilli(),
		t.SessionID, t.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTodos removes a session's list.
func (db *DB) DeleteTodos(ctx context.Context, sessionID string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM todos WHERE session_id = ?", sessionID)
	return err
}
