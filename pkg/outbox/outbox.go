package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"habitstreak/pkg/trace"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Event 表示一个待发布的事件
type Event struct {
	ID          int64
	RoutingKey  string
	Payload     json.RawMessage
	TraceID     string
	Status      string
	RetryCount  int
	NextRetryAt *time.Time
	CreatedAt   time.Time
}

// Store persists outbox events.
type Store interface {
	Insert(ctx context.Context, e *Event) error
	// Pending returns up to limit pending events whose retry time has come,
	// oldest first.
	Pending(ctx context.Context, limit int) ([]*Event, error)
	MarkSent(ctx context.Context, id int64) error
	// MarkFailed bumps the retry count and either schedules the next attempt
	// or gives up once maxRetries is reached.
	MarkFailed(ctx context.Context, id int64, maxRetries int) error
}

// Writer records events in the outbox instead of publishing them directly.
// It satisfies the engine's event publisher interface.
type Writer struct {
	store Store
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

func (w *Writer) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", routingKey, err)
	}
	return w.store.Insert(ctx, &Event{
		RoutingKey: routingKey,
		Payload:    body,
		TraceID:    trace.FromContext(ctx),
		Status:     StatusPending,
	})
}

// retryDelay 线性退避：5s, 10s, 15s...
func retryDelay(retryCount int) time.Duration {
	return time.Duration(retryCount) * 5 * time.Second
}

const schema = `
CREATE TABLE IF NOT EXISTS outbox_events (
    id            BIGSERIAL PRIMARY KEY,
    routing_key   TEXT NOT NULL,
    payload       JSONB NOT NULL,
    trace_id      TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    retry_count   INTEGER NOT NULL DEFAULT 0,
    next_retry_at TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS ix_outbox_events_pending ON outbox_events (status, created_at);
`

// PGStore keeps the outbox in PostgreSQL.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply outbox schema: %w", err)
	}
	return nil
}

func (s *PGStore) Insert(ctx context.Context, e *Event) error {
	query := `
        INSERT INTO outbox_events (routing_key, payload, trace_id, status)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at
    `
	if err := s.db.QueryRow(ctx, query, e.RoutingKey, e.Payload, e.TraceID, e.Status).Scan(&e.ID, &e.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func (s *PGStore) Pending(ctx context.Context, limit int) ([]*Event, error) {
	query := `
        SELECT id, routing_key, payload, trace_id, status, retry_count, next_retry_at, created_at
        FROM outbox_events
        WHERE status = 'pending'
        AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at ASC, id ASC
        LIMIT $1
    `
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.RoutingKey,
			&e.Payload,
			&e.TraceID,
			&e.Status,
			&e.RetryCount,
			&e.NextRetryAt,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *PGStore) MarkSent(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `
        UPDATE outbox_events
        SET status = 'sent', updated_at = NOW()
        WHERE id = $1
    `, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, id int64, maxRetries int) error {
	var retryCount int
	err := s.db.QueryRow(ctx, `SELECT retry_count FROM outbox_events WHERE id = $1`, id).Scan(&retryCount)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("outbox event %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount++
	status := StatusPending
	var nextRetryAt *time.Time
	if retryCount >= maxRetries {
		status = StatusFailed // 失败后不再重试
	} else {
		next := time.Now().Add(retryDelay(retryCount))
		nextRetryAt = &next
	}

	_, err = s.db.Exec(ctx, `
        UPDATE outbox_events
        SET status = $1, retry_count = $2, next_retry_at = $3, updated_at = NOW()
        WHERE id = $4
    `, status, retryCount, nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}
