package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
)

// AuditRepo implements ports.AuditRepository. The table is append-only;
// details is a JSONB column.
type AuditRepo struct {
	pool Pool
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(pool Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Create appends one audit entry.
func (r *AuditRepo) Create(ctx context.Context, entry *domain.AuditLogEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	query := `INSERT INTO audit_logs (id, action, gateway, user_id, transaction_id, subscription_id,
		refund_id, dispute_id, admin_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.pool.Exec(ctx, query,
		entry.ID, entry.Action, entry.Gateway, entry.UserID, entry.TransactionID,
		entry.SubscriptionID, entry.RefundID, entry.DisputeID, entry.AdminID,
		details, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List fetches audit entries with filtering and pagination, newest first.
func (r *AuditRepo) List(ctx context.Context, params ports.AuditListParams) ([]domain.AuditLogEntry, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Action != nil {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argIdx))
		args = append(args, *params.Action)
		argIdx++
	}
	if params.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, *params.UserID)
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

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT id, action, gateway, user_id, transaction_id, subscription_id,
		refund_id, dispute_id, admin_id, details, created_at
		FROM audit_logs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var entry domain.AuditLogEntry
		var details []byte
		err := rows.Scan(
			&entry.ID, &entry.Action, &entry.Gateway, &entry.UserID, &entry.TransactionID,
			&entry.SubscriptionID, &entry.RefundID, &entry.DisputeID, &entry.AdminID,
			&details, &entry.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit row: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, 0, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit rows: %w", err)
	}
	return entries, total, nil
}
