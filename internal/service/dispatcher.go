package service

import (
	"context"
	"errors"
	"fmt"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// handlerFunc is one semantic handler in the per-gateway dispatch tables.
type handlerFunc func(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error)

// DispatcherImpl routes canonical events to semantic handlers through
// static per-gateway tables built at construction. Five providers name the
// same facts differently; the tables pin each provider-native event type to
// one of the shared semantics: payment, activation, renewal, payment
// failure, cancellation, refund, dispute. Event types with no table entry
// are acknowledged as unhandled with no state change, so providers stop
// redelivering noise.
//
// Handlers never write the ledger directly for subscription money; they
// delegate to the services whose transactions carry the idempotency guard.
// A duplicate surfacing from below is mapped to action already_processed,
// never an error.
type DispatcherImpl struct {
	registry ports.GatewayRegistry
	ledger   ports.LedgerService
	subs     ports.SubscriptionService
	refunds  ports.RefundService
	subRepo  ports.SubscriptionRepository
	planRepo ports.PlanRepository
	audit    ports.AuditService
	log      zerolog.Logger
	routes   map[domain.Gateway]map[string]handlerFunc
}

// NewDispatcher creates a new DispatcherImpl with its routing tables.
func NewDispatcher(
	registry ports.GatewayRegistry,
	ledger ports.LedgerService,
	subs ports.SubscriptionService,
	refunds ports.RefundService,
	subRepo ports.SubscriptionRepository,
	planRepo ports.PlanRepository,
	audit ports.AuditService,
	log zerolog.Logger,
) *DispatcherImpl {
	d := &DispatcherImpl{
		registry: registry,
		ledger:   ledger,
		subs:     subs,
		refunds:  refunds,
		subRepo:  subRepo,
		planRepo: planRepo,
		audit:    audit,
		log:      log,
	}
	d.routes = map[domain.Gateway]map[string]handlerFunc{
		domain.GatewayStripe: {
			"checkout.session.completed":    d.handlePayment,
			"invoice.paid":                  d.handleStripeInvoicePaid,
			"invoice.payment_failed":        d.handlePaymentFailed,
			"customer.subscription.deleted": d.handleCancellation,
			"charge.refunded":               d.handleRefund,
			"charge.dispute.created":        d.handleDispute,
		},
		domain.GatewayRazorpay: {
			"payment.captured":        d.handlePayment,
			"payment.failed":          d.handlePaymentFailed,
			"subscription.activated":  d.handleActivation,
			"subscription.charged":    d.handleRenewal,
			"subscription.halted":     d.handlePaymentFailed,
			"subscription.cancelled":  d.handleCancellation,
			"refund.processed":        d.handleRefund,
			"payment.dispute.created": d.handleDispute,
		},
		domain.GatewayPayPal: {
			"PAYMENT.CAPTURE.COMPLETED":           d.handlePayment,
			"PAYMENT.SALE.COMPLETED":              d.handleRenewal,
			"BILLING.SUBSCRIPTION.ACTIVATED":      d.handleActivation,
			"BILLING.SUBSCRIPTION.PAYMENT.FAILED": d.handlePaymentFailed,
			"BILLING.SUBSCRIPTION.SUSPENDED":      d.handlePaymentFailed,
			"BILLING.SUBSCRIPTION.CANCELLED":      d.handleCancellation,
			"PAYMENT.CAPTURE.REFUNDED":            d.handleRefund,
			"CUSTOMER.DISPUTE.CREATED":            d.handleDispute,
		},
		domain.GatewayPaystack: {
			// subscription.not_renew is deliberately unrouted: access runs
			// until period end and subscription.disable arrives then.
			"charge.success":            d.handlePayment,
			"subscription.create":       d.handleActivation,
			"invoice.payment_succeeded": d.handleRenewal,
			"invoice.payment_failed":    d.handlePaymentFailed,
			"subscription.disable":      d.handleCancellation,
			"refund.processed":          d.handleRefund,
			"charge.dispute.create":     d.handleDispute,
		},
		domain.GatewayMercadoPago: {
			"payment":                         d.handleMercadoPagoPayment,
			"subscription_preapproval":        d.handleMercadoPagoPreapproval,
			"subscription_authorized_payment": d.handleMercadoPagoAuthorizedPayment,
			"chargebacks":                     d.handleDispute,
		},
	}
	return d
}

// Dispatch routes one canonical event. A nil error with action unhandled
// means the event was valid but carries nothing this ledger tracks.
func (d *DispatcherImpl) Dispatch(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	h, ok := d.routes[ev.Gateway][ev.EventType]
	if !ok {
		d.log.Debug().
			Str("gateway", string(ev.Gateway)).
			Str("event_type", ev.EventType).
			Str("event_id", ev.EventID).
			Msg("no handler for event type")
		return resultUnhandled(), nil
	}

	res, err := h(ctx, ev)
	if err != nil {
		return nil, err
	}
	d.log.Info().
		Str("gateway", string(ev.Gateway)).
		Str("event_type", ev.EventType).
		Str("event_id", ev.EventID).
		Str("action", res.Action).
		Msg("event dispatched")
	return res, nil
}

// handlePayment settles a completed charge. The metadata planted at
// checkout tells us who paid and what for; a charge we cannot attribute is
// flagged for reconciliation rather than guessed at.
func (d *DispatcherImpl) handlePayment(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	userID, ok := userFromEvent(ev)
	if !ok {
		return d.unattributedPayment(ctx, ev)
	}

	switch ev.Data.Type {
	case string(domain.TransactionTypeSubscription):
		return d.paymentForSubscription(ctx, ev, userID)
	case string(domain.TransactionTypeCredits):
		return d.paymentForCredits(ctx, ev, userID)
	default:
		txn, err := d.ledger.Commit(ctx, ports.CommitParams{
			UserID:      userID,
			Type:        domain.TransactionTypeOneTime,
			Gateway:     ev.Gateway,
			ExternalRef: ev.ExternalRef,
			Amount:      ev.Data.Amount,
			Currency:    ev.Data.Currency,
		})
		if apperror.IsDuplicate(err) {
			return resultAlreadyProcessed(&userID, txnIDOf(txn)), nil
		}
		if err != nil {
			return nil, err
		}
		return resultProcessed(&userID, &txn.ID), nil
	}
}

// paymentForSubscription handles the charge that starts or continues a
// subscription. With a provider subscription id attached it activates (and
// the activation transaction commits the payment); without one it is a
// cycle charge and renews whatever subscription this user has bound on the
// gateway. No bound subscription yet means the activation event is still in
// flight, so the error is retryable and the queue re-dispatches later.
func (d *DispatcherImpl) paymentForSubscription(ctx context.Context, ev *domain.CanonicalEvent, userID uuid.UUID) (*domain.HandlerResult, error) {
	if ev.Data.SubscriptionRef == "" {
		sub, err := d.subRepo.GetByUserID(ctx, userID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get subscription: %w", err))
		}
		if sub != nil {
			if ext := sub.ExternalID(ev.Gateway); ext != nil && *ext != "" {
				return d.renew(ctx, ev, *ext)
			}
		}
		return nil, apperror.ErrNotFound("subscription")
	}

	if ev.Data.PlanID == "" {
		return d.flagUnreconciled(ctx, ev, &userID, "subscription payment without plan metadata")
	}
	_, err := d.subs.Activate(ctx, ports.ActivateParams{
		UserID:        userID,
		PlanID:        ev.Data.PlanID,
		Gateway:       ev.Gateway,
		ExternalSubID: ev.Data.SubscriptionRef,
		PaymentRef:    ev.ExternalRef,
		Amount:        ev.Data.Amount,
		Currency:      ev.Data.Currency,
	})
	if apperror.IsDuplicate(err) {
		return resultAlreadyProcessed(&userID, nil), nil
	}
	if isPlanUnknown(err) {
		// Provider-side plan code we do not sell. The money is real, so
		// commit it unclassified and leave the mapping to a human.
		return d.commitUnplanned(ctx, ev, userID)
	}
	if err != nil {
		return nil, err
	}
	return resultProcessed(&userID, nil), nil
}

// paymentForCredits commits a credit-package purchase. The credit amount
// comes from the checkout metadata, falling back to the package catalog.
func (d *DispatcherImpl) paymentForCredits(ctx context.Context, ev *domain.CanonicalEvent, userID uuid.UUID) (*domain.HandlerResult, error) {
	credits := ev.Data.Credits
	if credits == 0 && ev.Data.CreditPackageID != "" {
		pkg, err := d.planRepo.GetCreditPackage(ctx, ev.Data.CreditPackageID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get credit package: %w", err))
		}
		if pkg != nil {
			credits = pkg.Credits
		}
	}

	params := ports.CommitParams{
		UserID:      userID,
		Type:        domain.TransactionTypeCredits,
		Gateway:     ev.Gateway,
		ExternalRef: ev.ExternalRef,
		Amount:      ev.Data.Amount,
		Currency:    ev.Data.Currency,
		Credits:     credits,
	}
	if ev.Data.CreditPackageID != "" {
		pkgID := ev.Data.CreditPackageID
		params.CreditPackageID = &pkgID
	}

	txn, err := d.ledger.Commit(ctx, params)
	if apperror.IsDuplicate(err) {
		return resultAlreadyProcessed(&userID, txnIDOf(txn)), nil
	}
	if err != nil {
		return nil, err
	}
	if credits == 0 {
		d.flagReconciliation(ctx, ev, &userID, "credits purchase with no resolvable credit amount")
	}
	return resultProcessed(&userID, &txn.ID), nil
}

// commitUnplanned records money whose plan metadata we could not map to the
// catalog. Committed so the ledger stays complete, flagged so someone looks.
func (d *DispatcherImpl) commitUnplanned(ctx context.Context, ev *domain.CanonicalEvent, userID uuid.UUID) (*domain.HandlerResult, error) {
	txn, err := d.ledger.Commit(ctx, ports.CommitParams{
		UserID:      userID,
		Type:        domain.TransactionTypeSubscription,
		Gateway:     ev.Gateway,
		ExternalRef: ev.ExternalRef,
		Amount:      ev.Data.Amount,
		Currency:    ev.Data.Currency,
	})
	if apperror.IsDuplicate(err) {
		return resultAlreadyProcessed(&userID, txnIDOf(txn)), nil
	}
	if err != nil {
		return nil, err
	}
	d.flagReconciliation(ctx, ev, &userID, fmt.Sprintf("unknown plan %q on subscription payment", ev.Data.PlanID))
	return resultProcessed(&userID, &txn.ID), nil
}

// unattributedPayment handles a charge with no usable user metadata.
// Providers fire several notices per charge; if the reference is already in
// the ledger a sibling event committed it and this one is a duplicate view.
// Otherwise the money exists but its owner is unknown, which is exactly
// what the reconciliation flag is for.
func (d *DispatcherImpl) unattributedPayment(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	txn, err := d.ledger.GetByGatewayRef(ctx, ev.Gateway, ev.ExternalRef)
	if err == nil {
		return resultAlreadyProcessed(nil, &txn.ID), nil
	}
	if !apperror.IsNotFound(err) {
		return nil, err
	}
	return d.flagUnreconciled(ctx, ev, nil, "payment without user attribution")
}

// handleStripeInvoicePaid gates invoice.paid on its billing reason. The
// initial invoice rides on checkout.session.completed; handling it here too
// would bill the first period twice.
func (d *DispatcherImpl) handleStripeInvoicePaid(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	if ev.Data.Reason != "subscription_cycle" {
		return resultUnhandled(), nil
	}
	return d.handleRenewal(ctx, ev)
}

// handleRenewal settles a recurring cycle charge against the subscription
// the provider names.
func (d *DispatcherImpl) handleRenewal(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	if ev.Data.SubscriptionRef == "" {
		return d.flagUnreconciled(ctx, ev, nil, "renewal without subscription reference")
	}
	return d.renew(ctx, ev, ev.Data.SubscriptionRef)
}

func (d *DispatcherImpl) renew(ctx context.Context, ev *domain.CanonicalEvent, externalSubID string) (*domain.HandlerResult, error) {
	sub, err := d.subs.Renew(ctx, ports.RenewParams{
		Gateway:       ev.Gateway,
		ExternalSubID: externalSubID,
		RenewalRef:    ev.ExternalRef,
		Amount:        ev.Data.Amount,
		Currency:      ev.Data.Currency,
	})
	if apperror.IsDuplicate(err) {
		return resultAlreadyProcessed(nil, nil), nil
	}
	if err != nil {
		// Includes the renewal-before-activation race: REF errors are
		// retryable, so the queue re-dispatches once activation lands.
		return nil, err
	}
	return resultProcessed(&sub.UserID, nil), nil
}

// handleActivation handles provider notices that a subscription exists,
// fired without (or alongside) the charge itself. The charge event carries
// the money; this one only binds the provider's subscription id.
func (d *DispatcherImpl) handleActivation(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	subRef := firstNonEmptyStr(ev.Data.SubscriptionRef, ev.ExternalRef)
	if subRef == "" {
		return resultUnhandled(), nil
	}

	existing, err := d.subRepo.GetByExternalID(ctx, ev.Gateway, subRef)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get subscription: %w", err))
	}
	if existing != nil {
		return resultAlreadyProcessed(&existing.UserID, nil), nil
	}

	userID, ok := userFromEvent(ev)
	if !ok || ev.Data.PlanID == "" {
		// No metadata came through on this notice. No money moved here, so
		// acknowledge; the charge event carries the metadata that binds.
		return resultUnhandled(), nil
	}

	_, err = d.subs.Activate(ctx, ports.ActivateParams{
		UserID:        userID,
		PlanID:        ev.Data.PlanID,
		Gateway:       ev.Gateway,
		ExternalSubID: subRef,
		Amount:        ev.Data.Amount,
		Currency:      ev.Data.Currency,
	})
	if apperror.IsDuplicate(err) {
		return resultAlreadyProcessed(&userID, nil), nil
	}
	if err != nil {
		return nil, err
	}
	return resultProcessed(&userID, nil), nil
}

// handlePaymentFailed applies the uniform failure policy for recurring
// charges: past_due, never an immediate downgrade. One-time charge failures
// have nothing pending locally, so they only leave an audit trace.
func (d *DispatcherImpl) handlePaymentFailed(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	if ev.Data.SubscriptionRef == "" {
		g := ev.Gateway
		d.audit.Record(ctx, domain.AuditLogEntry{
			Action:  domain.AuditPaymentFailed,
			Gateway: &g,
			Details: map[string]any{
				"event_type":   ev.EventType,
				"external_ref": ev.ExternalRef,
				"reason":       ev.Data.Reason,
			},
		})
		return resultUnhandled(), nil
	}
	if err := d.subs.MarkPastDue(ctx, ev.Gateway, ev.Data.SubscriptionRef); err != nil {
		return nil, err
	}
	return resultProcessed(nil, nil), nil
}

// handleCancellation applies a provider-confirmed cancellation. The
// provider already stopped billing, so the immediate path runs. A missing
// local subscription is retryable: cancellation can outrun activation when
// a user subscribes and cancels in quick succession.
func (d *DispatcherImpl) handleCancellation(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	subRef := firstNonEmptyStr(ev.Data.SubscriptionRef, ev.ExternalRef)
	if subRef == "" {
		return resultUnhandled(), nil
	}
	if err := d.subs.CancelByExternalID(ctx, ev.Gateway, subRef); err != nil {
		return nil, err
	}
	return resultProcessed(nil, nil), nil
}

// handleRefund reconciles a provider-side refund into the ledger.
func (d *DispatcherImpl) handleRefund(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	if ev.ExternalRef == "" {
		return resultUnhandled(), nil
	}
	txn, err := d.ledger.GetByGatewayRef(ctx, ev.Gateway, ev.ExternalRef)
	if err != nil {
		// A refund can outrun its payment's commit; REF retries via queue.
		return nil, err
	}
	if txn.Status == domain.TransactionStatusRefunded {
		return resultAlreadyProcessed(&txn.UserID, &txn.ID), nil
	}
	if txn.Status == domain.TransactionStatusDisputed {
		// A provider refund on a disputed charge means the dispute settled
		// in the customer's favor. Credits were already reversed when the
		// dispute opened, so only the outcome gets recorded.
		g := ev.Gateway
		d.audit.Record(ctx, domain.AuditLogEntry{
			Action:        domain.AuditDisputeResolved,
			Gateway:       &g,
			UserID:        &txn.UserID,
			TransactionID: &txn.ID,
			Details: map[string]any{
				"event_type": ev.EventType,
				"event_id":   ev.EventID,
				"resolution": "refunded",
			},
		})
		return resultProcessed(&txn.UserID, &txn.ID), nil
	}

	params := ports.RefundParams{
		TransactionID: txn.ID,
		Reason:        domain.RefundReasonCustomerRequest,
		InitiatedBy:   domain.RefundInitiatorGateway,
	}
	if ev.Data.Amount > 0 && ev.Data.Amount < txn.Amount {
		amount := ev.Data.Amount
		params.Amount = &amount
	}

	_, err = d.refunds.CreateRefund(ctx, params)
	if apperror.IsDuplicate(err) {
		return resultAlreadyProcessed(&txn.UserID, &txn.ID), nil
	}
	if isNotRefundable(err) {
		// The provider moved money on a transaction this ledger considers
		// closed (failed or cancelled). Flag instead of failing.
		return d.flagUnreconciled(ctx, ev, &txn.UserID, "provider refund for non-refundable transaction")
	}
	if err != nil {
		return nil, err
	}
	return resultProcessed(&txn.UserID, &txn.ID), nil
}

// handleDispute runs the chargeback compensation. An unknown reference was
// already flagged for reconciliation by the refund service, so it resolves
// to unhandled rather than churning in the retry queue.
func (d *DispatcherImpl) handleDispute(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	if ev.ExternalRef == "" {
		return resultUnhandled(), nil
	}
	refund, err := d.refunds.HandleChargeback(ctx, ports.ChargebackParams{
		Gateway:     ev.Gateway,
		ExternalRef: ev.ExternalRef,
		DisputeID:   ev.Data.DisputeID,
		Reason:      ev.Data.Reason,
	})
	if apperror.IsDuplicate(err) {
		return resultAlreadyProcessed(nil, nil), nil
	}
	if apperror.IsNotFound(err) {
		return resultUnhandled(), nil
	}
	if err != nil {
		return nil, err
	}
	return resultProcessed(nil, &refund.TransactionID), nil
}

// handleMercadoPagoPayment enriches the bare id notification before
// settling it. Mercado Pago webhooks carry only {type, data.id}; the facts
// live behind FetchStatus. Unpaid statuses are acknowledged because the
// provider notifies again on every status change.
func (d *DispatcherImpl) handleMercadoPagoPayment(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	st, err := d.fetchMercadoPago(ctx, ev.ExternalRef)
	if err != nil {
		return nil, err
	}
	if !st.Paid {
		return resultUnhandled(), nil
	}
	merged := mergeStatus(ev, st)
	return d.handlePayment(ctx, merged)
}

// handleMercadoPagoPreapproval folds the preapproval's fetched status onto
// the lifecycle handlers: authorized activates, cancelled cancels, paused
// is the past-due analog. Anything else is pending and will notify again.
func (d *DispatcherImpl) handleMercadoPagoPreapproval(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	st, err := d.fetchMercadoPago(ctx, ev.ExternalRef)
	if err != nil {
		return nil, err
	}
	merged := mergeStatus(ev, st)
	if merged.Data.SubscriptionRef == "" {
		merged.Data.SubscriptionRef = ev.ExternalRef
	}

	switch st.Status {
	case "authorized":
		return d.handleActivation(ctx, merged)
	case "cancelled":
		return d.handleCancellation(ctx, merged)
	case "paused":
		return d.handlePaymentFailed(ctx, merged)
	default:
		return resultUnhandled(), nil
	}
}

// handleMercadoPagoAuthorizedPayment settles one recurring cycle charge.
// The fetched payment carries the packed checkout metadata, so it rejoins
// the ordinary payment path, which resolves it to a renewal of the user's
// bound subscription. The parallel `payment` topic notice for the same
// charge lands on the same ledger reference and reports already_processed.
func (d *DispatcherImpl) handleMercadoPagoAuthorizedPayment(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error) {
	st, err := d.fetchMercadoPago(ctx, ev.ExternalRef)
	if apperror.IsNotFound(err) {
		// Some accounts only expose the charge behind the parallel
		// `payment` topic; that notice carries the money.
		return resultUnhandled(), nil
	}
	if err != nil {
		return nil, err
	}
	if !st.Paid {
		return resultUnhandled(), nil
	}
	return d.handlePayment(ctx, mergeStatus(ev, st))
}

func (d *DispatcherImpl) fetchMercadoPago(ctx context.Context, externalRef string) (*ports.GatewayStatus, error) {
	adapter, ok := d.registry.Get(string(domain.GatewayMercadoPago))
	if !ok {
		return nil, apperror.ErrUnknownGateway(string(domain.GatewayMercadoPago))
	}
	return adapter.FetchStatus(ctx, externalRef)
}

// mergeStatus overlays fetched provider facts onto the notification shell.
func mergeStatus(ev *domain.CanonicalEvent, st *ports.GatewayStatus) *domain.CanonicalEvent {
	merged := *ev
	if st.ExternalRef != "" {
		merged.ExternalRef = st.ExternalRef
	}
	merged.Data = st.Data
	if merged.Data.Amount == 0 {
		merged.Data.Amount = st.Amount
	}
	if merged.Data.Currency == "" {
		merged.Data.Currency = st.Currency
	}
	return &merged
}

// flagReconciliation leaves the audit trail a human works from when
// automatic attribution gave up.
func (d *DispatcherImpl) flagReconciliation(ctx context.Context, ev *domain.CanonicalEvent, userID *uuid.UUID, reason string) {
	g := ev.Gateway
	d.audit.Record(ctx, domain.AuditLogEntry{
		Action:  domain.AuditReconciliationRequired,
		Gateway: &g,
		UserID:  userID,
		Details: map[string]any{
			"event_type":   ev.EventType,
			"event_id":     ev.EventID,
			"external_ref": ev.ExternalRef,
			"amount":       ev.Data.Amount,
			"currency":     ev.Data.Currency,
			"reason":       reason,
		},
	})
	d.log.Warn().
		Str("gateway", string(ev.Gateway)).
		Str("event_type", ev.EventType).
		Str("external_ref", ev.ExternalRef).
		Str("reason", reason).
		Msg("event flagged for reconciliation")
}

func (d *DispatcherImpl) flagUnreconciled(ctx context.Context, ev *domain.CanonicalEvent, userID *uuid.UUID, reason string) (*domain.HandlerResult, error) {
	d.flagReconciliation(ctx, ev, userID, reason)
	res := resultUnhandled()
	if userID != nil {
		uid := userID.String()
		res.UserID = &uid
	}
	return res, nil
}

func firstNonEmptyStr(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func userFromEvent(ev *domain.CanonicalEvent) (uuid.UUID, bool) {
	if ev.Data.UserID == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(ev.Data.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func isPlanUnknown(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr) && appErr.Code == "PAY_002"
}

func isNotRefundable(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr) && appErr.Code == "PAY_001"
}

func resultProcessed(userID *uuid.UUID, txnID *uuid.UUID) *domain.HandlerResult {
	res := &domain.HandlerResult{Success: true, Action: domain.ActionProcessed}
	setResultIDs(res, userID, txnID)
	return res
}

func resultAlreadyProcessed(userID *uuid.UUID, txnID *uuid.UUID) *domain.HandlerResult {
	res := &domain.HandlerResult{Success: true, Action: domain.ActionAlreadyProcessed}
	setResultIDs(res, userID, txnID)
	return res
}

func resultUnhandled() *domain.HandlerResult {
	return &domain.HandlerResult{Success: true, Action: domain.ActionUnhandled}
}

func setResultIDs(res *domain.HandlerResult, userID *uuid.UUID, txnID *uuid.UUID) {
	if userID != nil {
		uid := userID.String()
		res.UserID = &uid
	}
	if txnID != nil {
		tid := txnID.String()
		res.TransactionID = &tid
	}
}

func txnIDOf(txn *domain.Transaction) *uuid.UUID {
	if txn == nil {
		return nil
	}
	return &txn.ID
}
