package repository

import (
	"context"
	"fmt"
	"time"
)

// OutboxMessage is one pending or published domain event.
type OutboxMessage struct {
	ID          string
	Subject     string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// OutboxRepository stores events written in the same transaction as the
// change they describe.
type OutboxRepository struct {
	db DBTX
}

// Insert appends an event to the outbox.
func (r *OutboxRepository) Insert(ctx context.Context, msg OutboxMessage) error {
	const query = `INSERT INTO review_outbox (id, subject, payload) VALUES ($1, $2, $3)`
	if _, err := r.db.Exec(ctx, query, msg.ID, msg.Subject, msg.Payload); err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit unpublished events, oldest first. Rows
// locked by another relay are skipped. Must run inside a transaction.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int) ([]OutboxMessage, error) {
	const query = `
        SELECT id, subject, payload, created_at
        FROM review_outbox
        WHERE published_at IS NULL
        ORDER BY created_at, id
        LIMIT $1
        FOR UPDATE SKIP LOCKED
    `
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()

	msgs := make([]OutboxMessage, 0)
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Subject, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return msgs, nil
}

// MarkPublished stamps the given events as delivered.
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE review_outbox SET published_at = now() WHERE id = ANY($1::uuid[])`
	if _, err := r.db.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// CountPending returns the number of unpublished events.
func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM review_outbox WHERE published_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}
