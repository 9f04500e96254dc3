package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
)

// WebhookEventRepository persists raw webhook captures. Inserts happen
// before any interpretation of the payload so a processing crash never
// loses a delivery.
type WebhookEventRepository struct {
	db *sqlx.DB
}

func NewWebhookEventRepository(db *sqlx.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Insert(ctx context.Context, event *entities.RawWebhookEvent) error {
	query := `
		INSERT INTO raw_webhook_events (id, source, payload, headers, source_ip, processed, received_at)
		VALUES (:id, :source, :payload, :headers, :source_ip, :processed, :received_at)`

	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("failed to insert raw webhook event: %w", err)
	}
	return nil
}

// MarkProcessed records the event's terminal outcome. failureReason is
// populated only for the error outcome.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, outcome string, failureReason *string) error {
	query := `
		UPDATE raw_webhook_events
		SET processed = true, outcome = $1, failure_reason = $2, processed_at = $3
		WHERE id = $4`

	if _, err := r.db.ExecContext(ctx, query, outcome, failureReason, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// ListUnprocessed returns events that never reached a terminal outcome,
// oldest first. Used by the reconciliation sweep.
func (r *WebhookEventRepository) ListUnprocessed(ctx context.Context, olderThan time.Duration, limit int) ([]entities.RawWebhookEvent, error) {
	query := `
		SELECT id, source, payload, headers, source_ip, processed, outcome, failure_reason, received_at, processed_at
		FROM raw_webhook_events
		WHERE processed = false AND received_at < $1
		ORDER BY received_at ASC
		LIMIT $2`

	events := []entities.RawWebhookEvent{}
	if err := r.db.SelectContext(ctx, &events, query, time.Now().Add(-olderThan), limit); err != nil {
		return nil, fmt.Errorf("failed to list unprocessed webhook events: %w", err)
	}
	return events, nil
}
