package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WebhookQueueRepo implements ports.WebhookQueueRepository. The unique
// index on (gateway, event_id) deduplicates concurrent enqueues of the same
// delivery; error_history is a JSONB column.
type WebhookQueueRepo struct {
	pool Pool
}

// NewWebhookQueueRepo creates a new WebhookQueueRepo.
func NewWebhookQueueRepo(pool Pool) *WebhookQueueRepo {
	return &WebhookQueueRepo{pool: pool}
}

const queueSelect = `SELECT id, gateway, event_type, event_id, payload, status, attempt_count,
	max_attempts, last_error, error_history, received_at, expires_at, next_retry_at, updated_at
	FROM webhook_queue`

// Create inserts a new dead-letter item.
func (r *WebhookQueueRepo) Create(ctx context.Context, item *domain.WebhookQueueItem) error {
	history, err := json.Marshal(item.ErrorHistory)
	if err != nil {
		return fmt.Errorf("marshal error history: %w", err)
	}

	query := `INSERT INTO webhook_queue (id, gateway, event_type, event_id, payload, status, attempt_count,
		max_attempts, last_error, error_history, received_at, expires_at, next_retry_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.pool.Exec(ctx, query,
		item.ID, item.Gateway, item.EventType, item.EventID, item.Payload,
		item.Status, item.AttemptCount, item.MaxAttempts, item.LastError, history,
		item.ReceivedAt, item.ExpiresAt, item.NextRetryAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ErrDuplicate(item.EventID)
		}
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

// Update rewrites an item's mutable state: status, attempts, errors,
// payload and scheduling timestamps.
func (r *WebhookQueueRepo) Update(ctx context.Context, item *domain.WebhookQueueItem) error {
	history, err := json.Marshal(item.ErrorHistory)
	if err != nil {
		return fmt.Errorf("marshal error history: %w", err)
	}

	query := `UPDATE webhook_queue SET payload = $1, status = $2, attempt_count = $3, last_error = $4,
		error_history = $5, received_at = $6, expires_at = $7, next_retry_at = $8, updated_at = $9
		WHERE id = $10`

	tag, err := r.pool.Exec(ctx, query,
		item.Payload, item.Status, item.AttemptCount, item.LastError, history,
		item.ReceivedAt, item.ExpiresAt, item.NextRetryAt, item.UpdatedAt, item.ID,
	)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue item not found: %s", item.ID)
	}
	return nil
}

// GetByID fetches a queue item by UUID.
func (r *WebhookQueueRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookQueueItem, error) {
	query := queueSelect + ` WHERE id = $1`

	return r.scanItem(r.pool.QueryRow(ctx, query, id))
}

// GetByEventID fetches a queue item by its provider event id.
func (r *WebhookQueueRepo) GetByEventID(ctx context.Context, gateway domain.Gateway, eventID string) (*domain.WebhookQueueItem, error) {
	query := queueSelect + ` WHERE gateway = $1 AND event_id = $2`

	return r.scanItem(r.pool.QueryRow(ctx, query, gateway, eventID))
}

// GetRetryable returns items due for a sweep: pending or failed, retry due,
// attempts left and delivery window still open, oldest due first.
func (r *WebhookQueueRepo) GetRetryable(ctx context.Context, now time.Time, limit int) ([]domain.WebhookQueueItem, error) {
	query := queueSelect + ` WHERE status IN ('pending', 'failed')
		AND next_retry_at <= $1 AND attempt_count < max_attempts AND expires_at > $1
		ORDER BY next_retry_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("get retryable items: %w", err)
	}
	defer rows.Close()

	return r.collectItems(rows)
}

// MarkProcessing claims an item for one sweeper pass. The guarded status
// check makes the claim exclusive: zero rows means another pass won.
func (r *WebhookQueueRepo) MarkProcessing(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `UPDATE webhook_queue SET status = 'processing', updated_at = $1
		WHERE id = $2 AND status IN ('pending', 'failed')`

	tag, err := r.pool.Exec(ctx, query, now, id)
	if err != nil {
		return false, fmt.Errorf("mark queue item processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseStale returns processing items older than the lease back to failed
// so a crashed sweeper cannot strand them.
func (r *WebhookQueueRepo) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `UPDATE webhook_queue SET status = 'failed', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1`

	tag, err := r.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("release stale items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List fetches queue items with filtering and pagination, newest first.
func (r *WebhookQueueRepo) List(ctx context.Context, params ports.QueueListParams) ([]domain.WebhookQueueItem, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Gateway != nil {
		conditions = append(conditions, fmt.Sprintf("gateway = $%d", argIdx))
		args = append(args, *params.Gateway)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM webhook_queue %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue items: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`%s %s ORDER BY received_at DESC LIMIT $%d OFFSET $%d`,
		queueSelect, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items, err := r.collectItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *WebhookQueueRepo) collectItems(rows pgx.Rows) ([]domain.WebhookQueueItem, error) {
	var items []domain.WebhookQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue rows: %w", err)
	}
	return items, nil
}

func (r *WebhookQueueRepo) scanItem(row pgx.Row) (*domain.WebhookQueueItem, error) {
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

func scanQueueItem(row pgx.Row) (*domain.WebhookQueueItem, error) {
	item := &domain.WebhookQueueItem{}
	var history []byte
	err := row.Scan(
		&item.ID, &item.Gateway, &item.EventType, &item.EventID, &item.Payload,
		&item.Status, &item.AttemptCount, &item.MaxAttempts, &item.LastError, &history,
		&item.ReceivedAt, &item.ExpiresAt, &item.NextRetryAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan queue item: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &item.ErrorHistory); err != nil {
			return nil, fmt.Errorf("unmarshal error history: %w", err)
		}
	}
	return item, nil
}
