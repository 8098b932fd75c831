package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	txcontext "limscore/pkg/platform/tx"
)

// PostgresStore writes events into an outbox table. Append joins the
// caller's transaction when one is on the context, so an event row commits
// or rolls back together with the workflow change that produced it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if dbTx, ok := txcontext.From(ctx); ok {
		return dbTx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_outbox (id, occurred_at, entity_type, entity_id, topic, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.Timestamp, event.EntityType, event.EntityID, event.Topic, payload,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT payload FROM audit_outbox
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY occurred_at`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListPending returns undispatched events oldest first.
func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT payload FROM audit_outbox
		WHERE dispatched_at IS NULL
		ORDER BY occurred_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending audit events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *PostgresStore) MarkDispatched(ctx context.Context, events []Event) error {
	for _, e := range events {
		_, err := s.execer(ctx).ExecContext(ctx,
			`UPDATE audit_outbox SET dispatched_at = now() WHERE id = $1`, e.ID)
		if err != nil {
			return fmt.Errorf("mark audit event dispatched: %w", err)
		}
	}
	return nil
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		var e Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("unmarshal audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
