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

// SubscriptionServiceImpl implements ports.SubscriptionService. Each user
// holds at most one subscription row; provider switches clear the other
// gateways' external ids so nobody gets billed twice.
//
// Activate and Renew write the cycle's ledger row inside their own database
// transaction. That makes the state change and the money record atomic: a
// replayed event trips the ledger's unique index, the whole transaction
// rolls back, and the subscription is not extended twice.
type SubscriptionServiceImpl struct {
	subRepo    ports.SubscriptionRepository
	planRepo   ports.PlanRepository
	txRepo     ports.TransactionRepository
	userRepo   ports.UserRepository
	registry   ports.GatewayRegistry
	transactor ports.DBTransactor
	audit      ports.AuditService
	notifier   ports.Notifier
	log        zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionServiceImpl.
func NewSubscriptionService(
	subRepo ports.SubscriptionRepository,
	planRepo ports.PlanRepository,
	txRepo ports.TransactionRepository,
	userRepo ports.UserRepository,
	registry ports.GatewayRegistry,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	notifier ports.Notifier,
	log zerolog.Logger,
) *SubscriptionServiceImpl {
	return &SubscriptionServiceImpl{
		subRepo:    subRepo,
		planRepo:   planRepo,
		txRepo:     txRepo,
		userRepo:   userRepo,
		registry:   registry,
		transactor: transactor,
		audit:      audit,
		notifier:   notifier,
		log:        log,
	}
}

// Activate starts (or restarts) a subscription after its first payment. An
// existing row is repointed at the new plan and gateway; the other
// providers' subscription ids are cleared in the same write. When
// PaymentRef is set, the activating payment is committed to the ledger and
// the plan's period credits granted in the same transaction; a PaymentRef
// that was already committed surfaces as DUP_001 with nothing changed.
func (s *SubscriptionServiceImpl) Activate(ctx context.Context, params ports.ActivateParams) (*domain.UserSubscription, error) {
	if params.UserID == uuid.Nil {
		return nil, apperror.Validation("user id must not be empty")
	}
	plan, err := s.planRepo.GetPlan(ctx, params.PlanID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get plan: %w", err))
	}
	if plan == nil {
		return nil, apperror.ErrPlanUnknown(params.PlanID)
	}

	// Begin database transaction
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	sub, err := s.subRepo.GetByUserID(ctx, params.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get subscription: %w", err))
	}

	// A replayed activation notice with no payment attached has no ledger
	// row to guard it; the bound external id is the idempotency key then.
	if params.PaymentRef == "" && sub != nil && sub.Status == domain.SubscriptionStatusActive {
		if ext := sub.ExternalID(params.Gateway); ext != nil && *ext == params.ExternalSubID {
			return sub, apperror.ErrDuplicate(params.ExternalSubID)
		}
	}

	created := sub == nil
	if created {
		sub = &domain.UserSubscription{
			ID:        uuid.New(),
			UserID:    params.UserID,
			CreatedAt: now,
		}
	}

	sub.PlanID = plan.ID
	sub.Status = domain.SubscriptionStatusActive
	sub.CancelAtPeriodEnd = false
	sub.ExtendPeriod(now, plan.BillingPeriod)
	if params.ExternalSubID != "" {
		sub.SetExternalID(params.Gateway, params.ExternalSubID, true)
	}
	sub.UpdatedAt = now

	if created {
		err = s.subRepo.Create(ctx, dbTx, sub)
	} else {
		err = s.subRepo.Update(ctx, dbTx, sub)
	}
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("persist subscription: %w", err))
	}

	// Persist: the activating payment and its credit grant, atomically with
	// the state change above.
	var txn *domain.Transaction
	if params.PaymentRef != "" {
		txn, err = s.commitCycle(ctx, dbTx, params.Gateway, sub, plan, params.PaymentRef, params.Amount, params.Currency, now)
		if err != nil {
			return nil, err
		}
	}

	// Commit
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:         domain.AuditSubscriptionCreated,
		Gateway:        &params.Gateway,
		UserID:         &params.UserID,
		SubscriptionID: &sub.ID,
		Details: map[string]any{
			"plan_id":         plan.ID,
			"external_sub_id": params.ExternalSubID,
			"payment_ref":     params.PaymentRef,
		},
	})
	if txn != nil {
		s.auditCyclePayment(ctx, params.Gateway, sub, txn, plan.CreditsPerPeriod)
	}
	s.log.Info().
		Str("subscription_id", sub.ID.String()).
		Str("user_id", params.UserID.String()).
		Str("plan_id", plan.ID).
		Str("gateway", string(params.Gateway)).
		Msg("subscription activated")

	return sub, nil
}

// Renew extends the billing window after a successful cycle payment and
// commits the cycle's ledger row with the plan's credits in the same
// transaction. The new period starts now, not at the previous period end,
// so a late renewal never shortens the time the user actually paid for.
// A RenewalRef that was already committed surfaces as DUP_001 with nothing
// changed.
func (s *SubscriptionServiceImpl) Renew(ctx context.Context, params ports.RenewParams) (*domain.UserSubscription, error) {
	if params.RenewalRef == "" {
		return nil, apperror.Validation("renewal reference must not be empty")
	}
	sub, err := s.subRepo.GetByExternalID(ctx, params.Gateway, params.ExternalSubID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get subscription: %w", err))
	}
	if sub == nil {
		// Renewal raced ahead of activation. REF is retryable, so the queue
		// re-dispatches once the activation has landed.
		return nil, apperror.ErrNotFound("subscription")
	}

	plan, err := s.planRepo.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get plan: %w", err))
	}
	if plan == nil {
		return nil, apperror.ErrPlanUnknown(sub.PlanID)
	}
	if !sub.CanTransitionTo(domain.SubscriptionStatusActive) {
		// The provider charged a subscription this ledger considers closed.
		s.audit.Record(ctx, domain.AuditLogEntry{
			Action:         domain.AuditReconciliationRequired,
			Gateway:        &params.Gateway,
			UserID:         &sub.UserID,
			SubscriptionID: &sub.ID,
			Details: map[string]any{
				"renewal_ref": params.RenewalRef,
				"status":      string(sub.Status),
			},
		})
		return nil, apperror.Validation(fmt.Sprintf("subscription in state %s cannot renew", sub.Status))
	}

	// Begin database transaction
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	sub.Status = domain.SubscriptionStatusActive
	sub.ExtendPeriod(now, plan.BillingPeriod)
	sub.UpdatedAt = now

	if err := s.subRepo.Update(ctx, dbTx, sub); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("persist subscription: %w", err))
	}
	txn, err := s.commitCycle(ctx, dbTx, params.Gateway, sub, plan, params.RenewalRef, params.Amount, params.Currency, now)
	if err != nil {
		return nil, err
	}

	// Commit
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:         domain.AuditSubscriptionRenewed,
		Gateway:        &params.Gateway,
		UserID:         &sub.UserID,
		SubscriptionID: &sub.ID,
		Details: map[string]any{
			"renewal_ref":    params.RenewalRef,
			"new_period_end": sub.CurrentPeriodEnd,
		},
	})
	s.auditCyclePayment(ctx, params.Gateway, sub, txn, plan.CreditsPerPeriod)
	s.log.Info().
		Str("subscription_id", sub.ID.String()).
		Time("period_end", sub.CurrentPeriodEnd).
		Msg("subscription renewed")

	return sub, nil
}

// commitCycle writes one billing cycle's ledger row and grants the plan's
// period credits inside the caller's transaction. The unique index on
// (gateway, gateway_transaction_id) turns a replayed reference into DUP_001
// and the caller's rollback discards every other change with it.
func (s *SubscriptionServiceImpl) commitCycle(
	ctx context.Context,
	dbTx pgx.Tx,
	gateway domain.Gateway,
	sub *domain.UserSubscription,
	plan *domain.Plan,
	ref string,
	amount int64,
	currency string,
	now time.Time,
) (*domain.Transaction, error) {
	if amount == 0 {
		amount = plan.PriceCents
	}
	if currency == "" {
		currency = plan.Currency
	}

	txn := &domain.Transaction{
		ID:                   uuid.New(),
		UserID:               sub.UserID,
		Type:                 domain.TransactionTypeSubscription,
		Gateway:              gateway,
		GatewayTransactionID: &ref,
		Amount:               amount,
		Currency:             currency,
		Status:               domain.TransactionStatusCompleted,
		PlanID:               &sub.PlanID,
		SubscriptionID:       &sub.ID,
		CreditsAwarded:       plan.CreditsPerPeriod,
		CompletedAt:          &now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		if apperror.IsDuplicate(err) {
			return nil, apperror.ErrDuplicate(ref)
		}
		return nil, apperror.InternalError(fmt.Errorf("create cycle transaction: %w", err))
	}
	if plan.CreditsPerPeriod > 0 {
		if _, err := s.userRepo.AdjustCredits(ctx, dbTx, sub.UserID, plan.CreditsPerPeriod); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("grant period credits: %w", err))
		}
	}
	return txn, nil
}

func (s *SubscriptionServiceImpl) auditCyclePayment(ctx context.Context, gateway domain.Gateway, sub *domain.UserSubscription, txn *domain.Transaction, credits int64) {
	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:        domain.AuditPaymentCompleted,
		Gateway:       &gateway,
		UserID:        &sub.UserID,
		TransactionID: &txn.ID,
		Details: map[string]any{
			"gateway_transaction_id": *txn.GatewayTransactionID,
			"amount":                 txn.Amount,
			"currency":               txn.Currency,
		},
	})
	if credits > 0 {
		s.audit.Record(ctx, domain.AuditLogEntry{
			Action:        domain.AuditCreditsAwarded,
			Gateway:       &gateway,
			UserID:        &sub.UserID,
			TransactionID: &txn.ID,
			Details:       map[string]any{"credits": credits},
		})
	}
	s.notifier.PaymentConfirmed(ctx, sub.UserID, txn.ID)
}

// MarkPastDue applies the uniform payment-failed policy: flag the
// subscription and notify the user. Downgrades never happen in the webhook
// path; providers retry on their own schedule and a later success brings
// the subscription back through Renew.
func (s *SubscriptionServiceImpl) MarkPastDue(ctx context.Context, gateway domain.Gateway, externalSubID string) error {
	sub, err := s.subRepo.GetByExternalID(ctx, gateway, externalSubID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get subscription: %w", err))
	}
	if sub == nil {
		return apperror.ErrNotFound("subscription")
	}
	if sub.Status == domain.SubscriptionStatusPastDue {
		return nil // repeated failure notices are a no-op
	}
	if !sub.CanTransitionTo(domain.SubscriptionStatusPastDue) {
		s.log.Warn().
			Str("subscription_id", sub.ID.String()).
			Str("status", string(sub.Status)).
			Msg("payment failed for subscription not in a flaggable state")
		return nil
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	sub.Status = domain.SubscriptionStatusPastDue
	sub.UpdatedAt = time.Now().UTC()
	if err := s.subRepo.Update(ctx, dbTx, sub); err != nil {
		return apperror.InternalError(fmt.Errorf("persist subscription: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:         domain.AuditSubscriptionPaymentFailed,
		Gateway:        &gateway,
		UserID:         &sub.UserID,
		SubscriptionID: &sub.ID,
	})
	s.notifier.SubscriptionPastDue(ctx, sub.UserID)
	s.log.Warn().
		Str("subscription_id", sub.ID.String()).
		Str("gateway", string(gateway)).
		Msg("subscription marked past due")

	return nil
}

// CancelByExternalID handles a provider-confirmed cancellation webhook.
// The provider has already stopped billing, so this takes the immediate
// path: cancelled status, downgrade to the free plan, external ids cleared.
func (s *SubscriptionServiceImpl) CancelByExternalID(ctx context.Context, gateway domain.Gateway, externalSubID string) error {
	sub, err := s.subRepo.GetByExternalID(ctx, gateway, externalSubID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get subscription: %w", err))
	}
	if sub == nil {
		return apperror.ErrNotFound("subscription")
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		return nil
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	s.applyImmediateCancel(sub, time.Now().UTC())
	if err := s.subRepo.Update(ctx, dbTx, sub); err != nil {
		return apperror.InternalError(fmt.Errorf("persist subscription: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:         domain.AuditSubscriptionCancelled,
		Gateway:        &gateway,
		UserID:         &sub.UserID,
		SubscriptionID: &sub.ID,
		Details:        map[string]any{"initiated_by": "gateway"},
	})
	s.log.Info().
		Str("subscription_id", sub.ID.String()).
		Str("gateway", string(gateway)).
		Msg("subscription cancelled by provider")

	return nil
}

// CancelForUser handles a user-initiated cancellation. The provider side is
// cancelled first; when immediate is false the local row only flags
// cancel-at-period-end and access continues until the paid window closes.
func (s *SubscriptionServiceImpl) CancelForUser(ctx context.Context, userID uuid.UUID, immediate bool) error {
	sub, err := s.subRepo.GetByUserID(ctx, userID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get subscription: %w", err))
	}
	if sub == nil {
		return apperror.ErrNotFound("subscription")
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		return nil
	}

	// Cancel at the provider that currently bills this user, if any.
	for _, g := range domain.AllGateways {
		extID := sub.ExternalID(g)
		if extID == nil || *extID == "" {
			continue
		}
		adapter, ok := s.registry.Get(string(g))
		if !ok {
			continue
		}
		if err := adapter.CancelSubscription(ctx, *extID); err != nil && !apperror.IsNotFound(err) {
			return err
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	if immediate {
		s.applyImmediateCancel(sub, now)
	} else {
		sub.CancelAtPeriodEnd = true
		sub.UpdatedAt = now
	}

	if err := s.subRepo.Update(ctx, dbTx, sub); err != nil {
		return apperror.InternalError(fmt.Errorf("persist subscription: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:         domain.AuditSubscriptionCancelled,
		UserID:         &userID,
		SubscriptionID: &sub.ID,
		Details:        map[string]any{"initiated_by": "user", "immediate": immediate},
	})
	s.log.Info().
		Str("subscription_id", sub.ID.String()).
		Bool("immediate", immediate).
		Msg("subscription cancelled by user")

	return nil
}

// applyImmediateCancel moves a subscription to its post-cancellation shape:
// cancelled status, free plan, no provider ids left to bill against.
func (s *SubscriptionServiceImpl) applyImmediateCancel(sub *domain.UserSubscription, now time.Time) {
	sub.Status = domain.SubscriptionStatusCancelled
	sub.PlanID = domain.FreePlanID
	sub.CancelAtPeriodEnd = false
	sub.CurrentPeriodEnd = now
	sub.ClearExternalIDs()
	sub.UpdatedAt = now
}

// GetForUser returns the user's subscription.
func (s *SubscriptionServiceImpl) GetForUser(ctx context.Context, userID uuid.UUID) (*domain.UserSubscription, error) {
	sub, err := s.subRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get subscription: %w", err))
	}
	if sub == nil {
		return nil, apperror.ErrNotFound("subscription")
	}
	return sub, nil
}
