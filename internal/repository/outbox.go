package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
)

// EnqueueTask records a device task in the current transaction
func (q *queries) EnqueueTask(ctx context.Context, task *db.OutboxTask) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}

	query := `
		INSERT INTO outbox_tasks (id, kind, payload)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	if err := q.db.QueryRow(ctx, query, task.ID, task.Kind, []byte(task.Payload)).Scan(&task.CreatedAt); err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", task.Kind, mapError(err))
	}
	return nil
}

// PendingTasks returns undispatched tasks, oldest first
func (q *queries) PendingTasks(ctx context.Context, limit int) ([]db.OutboxTask, error) {
	query := `
		SELECT id, kind, payload, created_at
		FROM outbox_tasks
		WHERE dispatched_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`

	rows, err := q.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []db.OutboxTask
	for rows.Next() {
		var t db.OutboxTask
		var payload []byte
		if err := rows.Scan(&t.ID, &t.Kind, &payload, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Payload = payload
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// MarkTaskDispatched stamps a task as handed to the broker
func (q *queries) MarkTaskDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE outbox_tasks SET dispatched_at = $2 WHERE id = $1 AND dispatched_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark task %s dispatched: %w", id, err)
	}
	return nil
}
