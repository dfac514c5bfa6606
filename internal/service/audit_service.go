package service

import (
	"context"
	"time"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type auditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit entries are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) ports.AuditService {
	return &auditService{repo: repo, log: log}
}

// Record persists an audit entry asynchronously (fire-and-forget). The
// caller's operation never blocks on or fails because of the audit trail.
func (s *auditService) Record(ctx context.Context, entry domain.AuditLogEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	go func() {
		ev := s.log.Info().Str("action", string(entry.Action))
		if entry.Gateway != nil {
			ev = ev.Str("gateway", string(*entry.Gateway))
		}
		if entry.UserID != nil {
			ev = ev.Str("user_id", entry.UserID.String())
		}
		if entry.TransactionID != nil {
			ev = ev.Str("transaction_id", entry.TransactionID.String())
		}
		ev.Msg("audit")

		if s.repo != nil {
			if err := s.repo.Create(context.Background(), &entry); err != nil {
				s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit entry")
			}
		}
	}()
}

// List queries the audit trail with filters and pagination.
func (s *auditService) List(ctx context.Context, params ports.AuditListParams) ([]domain.AuditLogEntry, int64, error) {
	return s.repo.List(ctx, params)
}
