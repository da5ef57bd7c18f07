package database

import (
	"context"
	"fmt"
	"time"

	"manito/internal/models"
)

const outboxColumns = `id, event_type, aggregate_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateOutboxTask(ctx context.Context, task *models.OutboxTask) error {
	if task.Status == "" {
		task.Status = models.OutboxPending
	}
	query := `INSERT INTO outbox (event_type, aggregate_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := db.timestamp()
	result, err := db.ExecContext(ctx, query,
		task.EventType,
		task.AggregateID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		formatTime(now),
		formatTimePtr(task.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

// GetPendingOutboxTasks returns tasks that are due, oldest first.
func (db *DB) GetPendingOutboxTasks(ctx context.Context, limit int) ([]models.OutboxTask, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	return db.queryOutbox(ctx, query, models.OutboxPending, models.OutboxRetry, formatTime(db.timestamp()), limit)
}

func (db *DB) GetFailedOutboxTasks(ctx context.Context) ([]models.OutboxTask, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox WHERE status = ? ORDER BY created_at DESC`
	return db.queryOutbox(ctx, query, models.OutboxFailed)
}

func (db *DB) queryOutbox(ctx context.Context, query string, args ...any) ([]models.OutboxTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var tasks []models.OutboxTask
	for rows.Next() {
		var t models.OutboxTask
		if err := rows.Scan(
			&t.ID, &t.EventType, &t.AggregateID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateOutboxTaskStatus moves a task between pending, retry, completed and failed.
func (db *DB) UpdateOutboxTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var lastError any
	if errMsg != "" {
		lastError = errMsg
	}

	var (
		query string
		args  []any
	)
	switch status {
	case models.OutboxRetry:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, lastError, formatTimePtr(nextRetryAt), id}
	case models.OutboxCompleted, models.OutboxFailed:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`
		args = []any{status, lastError, formatTime(db.timestamp()), id}
	default:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, lastError, formatTimePtr(nextRetryAt), id}
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update outbox task status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("outbox task %d: %w", id, ErrNotFound)
	}
	return nil
}
