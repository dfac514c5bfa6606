package service

import (
	"context"
	"fmt"
	"time"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LedgerServiceImpl implements ports.LedgerService. It owns the single
// durable commit point of the pipeline: the unique index on
// (gateway, gateway_transaction_id) guarantees at most one economic effect
// per provider reference no matter how many times a delivery repeats.
type LedgerServiceImpl struct {
	txRepo     ports.TransactionRepository
	userRepo   ports.UserRepository
	transactor ports.DBTransactor
	audit      ports.AuditService
	notifier   ports.Notifier
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	txRepo ports.TransactionRepository,
	userRepo ports.UserRepository,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	notifier ports.Notifier,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		txRepo:     txRepo,
		userRepo:   userRepo,
		transactor: transactor,
		audit:      audit,
		notifier:   notifier,
		log:        log,
	}
}

// Commit records a completed transaction and grants credits in one database
// transaction. A reference that was already committed surfaces as DUP_001
// alongside the existing row, with the ledger untouched; racing writers are
// serialized by the unique index, so exactly one of them wins.
func (s *LedgerServiceImpl) Commit(ctx context.Context, params ports.CommitParams) (*domain.Transaction, error) {
	if params.ExternalRef == "" {
		return nil, apperror.Validation("gateway transaction reference must not be empty")
	}
	if params.Amount < 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if params.UserID == uuid.Nil {
		return nil, apperror.Validation("user id must not be empty")
	}

	// Fast path: already committed. Cheaper than burning a transaction, and
	// the unique index still backstops the race this check cannot close.
	existing, err := s.txRepo.GetByGatewayTransactionID(ctx, params.Gateway, params.ExternalRef)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency pre-check: %w", err))
	}
	if existing != nil {
		return existing, apperror.ErrDuplicate(params.ExternalRef)
	}

	// Begin database transaction
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:                   uuid.New(),
		UserID:               params.UserID,
		Type:                 params.Type,
		Gateway:              params.Gateway,
		GatewayTransactionID: &params.ExternalRef,
		Amount:               params.Amount,
		Currency:             params.Currency,
		Status:               domain.TransactionStatusCompleted,
		PlanID:               params.PlanID,
		CreditPackageID:      params.CreditPackageID,
		SubscriptionID:       params.SubscriptionID,
		CreditsAwarded:       params.Credits,
		Description:          params.Description,
		CompletedAt:          &now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	// Persist: ledger row. The unique index turns a concurrent duplicate
	// into DUP_001 here; the loser refetches the winner's row.
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		if apperror.IsDuplicate(err) {
			winner, lookupErr := s.txRepo.GetByGatewayTransactionID(ctx, params.Gateway, params.ExternalRef)
			if lookupErr != nil {
				s.log.Warn().Err(lookupErr).Str("ref", params.ExternalRef).Msg("failed to fetch winning duplicate row")
			}
			return winner, apperror.ErrDuplicate(params.ExternalRef)
		}
		return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}

	// Persist: credit grant in the same transaction, so ledger row and
	// balance move together or not at all.
	var newBalance int64
	if params.Credits > 0 {
		newBalance, err = s.userRepo.AdjustCredits(ctx, dbTx, params.UserID, params.Credits)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("grant credits: %w", err))
		}
	}

	// Commit
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	// Post-commit: audit + notification, both best-effort.
	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:        domain.AuditPaymentCompleted,
		Gateway:       &params.Gateway,
		UserID:        &params.UserID,
		TransactionID: &txn.ID,
		Details: map[string]any{
			"gateway_transaction_id": params.ExternalRef,
			"amount":                 params.Amount,
			"currency":               params.Currency,
		},
	})
	if params.Credits > 0 {
		s.audit.Record(ctx, domain.AuditLogEntry{
			Action:        domain.AuditCreditsAwarded,
			Gateway:       &params.Gateway,
			UserID:        &params.UserID,
			TransactionID: &txn.ID,
			Details: map[string]any{
				"credits":     params.Credits,
				"new_balance": newBalance,
			},
		})
	}
	s.notifier.PaymentConfirmed(ctx, params.UserID, txn.ID)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("gateway", string(params.Gateway)).
		Str("gateway_transaction_id", params.ExternalRef).
		Int64("amount", params.Amount).
		Int64("credits", params.Credits).
		Msg("transaction committed")

	return txn, nil
}

// GetByGatewayRef looks up a committed transaction by provider reference.
func (s *LedgerServiceImpl) GetByGatewayRef(ctx context.Context, gateway domain.Gateway, ref string) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByGatewayTransactionID(ctx, gateway, ref)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get by gateway ref: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

// ListTransactions pages through the ledger with optional filters.
func (s *LedgerServiceImpl) ListTransactions(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	txns, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, total, nil
}
