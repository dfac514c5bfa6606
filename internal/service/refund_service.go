package service

import (
	"context"
	"fmt"
	"time"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// RefundServiceImpl implements ports.RefundService. Money movement happens
// on the provider side; this service records the reversal, takes back the
// granted credits, and for disputes runs the account compensation.
type RefundServiceImpl struct {
	refundRepo ports.RefundRepository
	txRepo     ports.TransactionRepository
	userRepo   ports.UserRepository
	transactor ports.DBTransactor
	audit      ports.AuditService
	notifier   ports.Notifier
	log        zerolog.Logger
}

// NewRefundService creates a new RefundServiceImpl.
func NewRefundService(
	refundRepo ports.RefundRepository,
	txRepo ports.TransactionRepository,
	userRepo ports.UserRepository,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	notifier ports.Notifier,
	log zerolog.Logger,
) *RefundServiceImpl {
	return &RefundServiceImpl{
		refundRepo: refundRepo,
		txRepo:     txRepo,
		userRepo:   userRepo,
		transactor: transactor,
		audit:      audit,
		notifier:   notifier,
		log:        log,
	}
}

// CreateRefund records a refund against a completed transaction: refund
// row, transaction marked refunded, granted credits reversed clamped at the
// user's current balance. At most one completed refund exists per
// transaction; a second attempt surfaces as DUP_001.
func (s *RefundServiceImpl) CreateRefund(ctx context.Context, params ports.RefundParams) (*domain.Refund, error) {
	txn, err := s.txRepo.GetByID(ctx, params.TransactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if !txn.IsRefundable() {
		return nil, apperror.ErrNotRefundable()
	}

	existing, err := s.refundRepo.GetByTransactionID(ctx, params.TransactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check existing refund: %w", err))
	}
	if existing != nil && existing.IsCompleted() {
		return existing, apperror.ErrDuplicate(params.TransactionID.String())
	}

	amount := txn.Amount
	if params.Amount != nil {
		if *params.Amount <= 0 || *params.Amount > txn.Amount {
			return nil, apperror.ErrInvalidAmount()
		}
		amount = *params.Amount
	}

	// Begin database transaction
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	reversed, err := s.reverseCredits(ctx, dbTx, txn)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	refund := &domain.Refund{
		ID:              uuid.New(),
		TransactionID:   txn.ID,
		Gateway:         txn.Gateway,
		Amount:          amount,
		Currency:        txn.Currency,
		Reason:          params.Reason,
		InitiatedBy:     params.InitiatedBy,
		Status:          domain.RefundStatusCompleted,
		CreditsReversed: reversed,
		CreatedAt:       now,
		CompletedAt:     &now,
	}
	if err := s.refundRepo.Create(ctx, dbTx, refund); err != nil {
		if apperror.IsDuplicate(err) {
			return nil, apperror.ErrDuplicate(params.TransactionID.String())
		}
		return nil, apperror.InternalError(fmt.Errorf("create refund: %w", err))
	}
	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.TransactionStatusRefunded); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("mark transaction refunded: %w", err))
	}

	// Commit
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:        domain.AuditRefundInitiated,
		Gateway:       &txn.Gateway,
		UserID:        &txn.UserID,
		TransactionID: &txn.ID,
		RefundID:      &refund.ID,
		AdminID:       params.AdminID,
		Details:       map[string]any{"reason": string(params.Reason), "amount": amount},
	})
	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:        domain.AuditRefundCompleted,
		Gateway:       &txn.Gateway,
		UserID:        &txn.UserID,
		TransactionID: &txn.ID,
		RefundID:      &refund.ID,
		Details:       map[string]any{"credits_reversed": reversed},
	})
	s.log.Info().
		Str("refund_id", refund.ID.String()).
		Str("tx_id", txn.ID.String()).
		Int64("amount", amount).
		Int64("credits_reversed", reversed).
		Msg("refund recorded")

	return refund, nil
}

// HandleChargeback runs the dispute compensation: reverse granted credits
// clamped at the current balance, mark the transaction disputed, record a
// chargeback refund row, and deactivate the user. It is independent of
// subscription state; a disputed renewal does not cancel the subscription.
func (s *RefundServiceImpl) HandleChargeback(ctx context.Context, params ports.ChargebackParams) (*domain.Refund, error) {
	txn, err := s.txRepo.GetByGatewayTransactionID(ctx, params.Gateway, params.ExternalRef)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		// Money is moving against a payment this ledger never saw. Flag it
		// for a human before the provider's evidence window closes.
		s.audit.Record(ctx, domain.AuditLogEntry{
			Action:    domain.AuditReconciliationRequired,
			Gateway:   &params.Gateway,
			DisputeID: &params.DisputeID,
			Details: map[string]any{
				"gateway_transaction_id": params.ExternalRef,
				"reason":                 params.Reason,
			},
		})
		return nil, apperror.ErrNotFound("disputed transaction")
	}
	if txn.Status == domain.TransactionStatusDisputed {
		return nil, apperror.ErrDuplicate(params.ExternalRef)
	}

	// Begin database transaction
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	reversed, err := s.reverseCredits(ctx, dbTx, txn)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	refund := &domain.Refund{
		ID:              uuid.New(),
		TransactionID:   txn.ID,
		Gateway:         txn.Gateway,
		Amount:          txn.Amount,
		Currency:        txn.Currency,
		Reason:          domain.RefundReasonChargeback,
		InitiatedBy:     domain.RefundInitiatorGateway,
		Status:          domain.RefundStatusCompleted,
		CreditsReversed: reversed,
		UserSuspended:   true,
		CreatedAt:       now,
		CompletedAt:     &now,
	}
	if err := s.refundRepo.Create(ctx, dbTx, refund); err != nil {
		if apperror.IsDuplicate(err) {
			return nil, apperror.ErrDuplicate(params.ExternalRef)
		}
		return nil, apperror.InternalError(fmt.Errorf("create chargeback refund: %w", err))
	}
	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.TransactionStatusDisputed); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("mark transaction disputed: %w", err))
	}
	if err := s.userRepo.SetActive(ctx, dbTx, txn.UserID, false); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("deactivate user: %w", err))
	}

	// Commit
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:        domain.AuditDisputeOpened,
		Gateway:       &params.Gateway,
		UserID:        &txn.UserID,
		TransactionID: &txn.ID,
		RefundID:      &refund.ID,
		DisputeID:     &params.DisputeID,
		Details:       map[string]any{"reason": params.Reason},
	})
	if reversed > 0 {
		s.audit.Record(ctx, domain.AuditLogEntry{
			Action:        domain.AuditCreditsReversed,
			Gateway:       &params.Gateway,
			UserID:        &txn.UserID,
			TransactionID: &txn.ID,
			Details:       map[string]any{"credits": reversed},
		})
	}
	s.notifier.AccountDeactivated(ctx, txn.UserID)
	s.log.Warn().
		Str("tx_id", txn.ID.String()).
		Str("dispute_id", params.DisputeID).
		Str("user_id", txn.UserID.String()).
		Int64("credits_reversed", reversed).
		Msg("chargeback processed, user deactivated")

	return refund, nil
}

// reverseCredits takes back the credits a transaction granted, clamped at
// the user's current balance so the account never goes negative. Runs
// inside the caller's transaction with the user row locked.
func (s *RefundServiceImpl) reverseCredits(ctx context.Context, dbTx pgx.Tx, txn *domain.Transaction) (int64, error) {
	if txn.CreditsAwarded <= 0 {
		return 0, nil
	}
	user, err := s.userRepo.GetByIDForUpdate(ctx, dbTx, txn.UserID)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("lock user: %w", err))
	}
	if user == nil {
		return 0, apperror.ErrNotFound("user")
	}

	reversed := txn.CreditsAwarded
	if user.Credits < reversed {
		reversed = user.Credits
	}
	if reversed == 0 {
		return 0, nil
	}
	if _, err := s.userRepo.AdjustCredits(ctx, dbTx, txn.UserID, -reversed); err != nil {
		return 0, apperror.InternalError(fmt.Errorf("reverse credits: %w", err))
	}
	return reversed, nil
}
