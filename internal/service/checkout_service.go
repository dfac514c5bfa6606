package service

import (
	"context"
	"fmt"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CheckoutServiceImpl serves the synchronous client flow: create a provider
// order with our metadata planted on it, and verify a client-reported
// payment against the provider.
//
// VerifyPayment commits through the same ledger path as the webhook
// pipeline. Whichever side lands second hits the idempotency guard and
// returns the row the first side wrote, so client verification and webhook
// delivery can race freely.
type CheckoutServiceImpl struct {
	registry ports.GatewayRegistry
	settings ports.SettingsService
	ledger   ports.LedgerService
	subs     ports.SubscriptionService
	planRepo ports.PlanRepository
	userRepo ports.UserRepository
	audit    ports.AuditService
	log      zerolog.Logger
}

// NewCheckoutService creates a new CheckoutServiceImpl.
func NewCheckoutService(
	registry ports.GatewayRegistry,
	settings ports.SettingsService,
	ledger ports.LedgerService,
	subs ports.SubscriptionService,
	planRepo ports.PlanRepository,
	userRepo ports.UserRepository,
	audit ports.AuditService,
	log zerolog.Logger,
) *CheckoutServiceImpl {
	return &CheckoutServiceImpl{
		registry: registry,
		settings: settings,
		ledger:   ledger,
		subs:     subs,
		planRepo: planRepo,
		userRepo: userRepo,
		audit:    audit,
		log:      log,
	}
}

// CreateOrder prices the purchase from the catalog and opens a provider
// order carrying the metadata the webhook pipeline later attributes by.
func (s *CheckoutServiceImpl) CreateOrder(ctx context.Context, params ports.OrderParams) (*ports.InitiateResult, error) {
	user, err := s.userRepo.GetByID(ctx, params.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}
	if !user.Active {
		return nil, apperror.Validation("account is deactivated")
	}

	adapter, creds, err := s.enabledAdapter(ctx, params.Gateway)
	if err != nil {
		return nil, err
	}

	req := ports.InitiateRequest{
		UserID:     params.UserID,
		Email:      user.Email,
		Type:       params.Type,
		Reference:  uuid.NewString(),
		SuccessURL: params.SuccessURL,
		CancelURL:  params.CancelURL,
	}

	switch params.Type {
	case domain.TransactionTypeSubscription:
		plan, err := s.planRepo.GetPlan(ctx, params.PlanID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get plan: %w", err))
		}
		if plan == nil {
			return nil, apperror.ErrPlanUnknown(params.PlanID)
		}
		if plan.ID == domain.FreePlanID || plan.PriceCents <= 0 {
			return nil, apperror.Validation("plan is not purchasable")
		}
		req.PlanID = plan.ID
		req.BillingPeriod = plan.BillingPeriod
		req.Amount = plan.PriceCents
		req.Currency = plan.Currency
		req.Description = fmt.Sprintf("%s plan, billed %s", plan.Name, plan.BillingPeriod)
	case domain.TransactionTypeCredits:
		pkg, err := s.planRepo.GetCreditPackage(ctx, params.CreditPackageID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get credit package: %w", err))
		}
		if pkg == nil {
			return nil, apperror.ErrPlanUnknown(params.CreditPackageID)
		}
		req.CreditPackageID = pkg.ID
		req.Credits = pkg.Credits
		req.Amount = pkg.PriceCents
		req.Currency = pkg.Currency
		req.Description = fmt.Sprintf("%s (%d credits)", pkg.Name, pkg.Credits)
	default:
		return nil, apperror.Validation(fmt.Sprintf("unsupported checkout type %q", params.Type))
	}
	if req.Currency == "" {
		req.Currency = creds.Currency
	}

	res, err := adapter.Initiate(ctx, req)
	if err != nil {
		return nil, err
	}

	g := params.Gateway
	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:  domain.AuditPaymentInitiated,
		Gateway: &g,
		UserID:  &params.UserID,
		Details: map[string]any{
			"type":         string(params.Type),
			"amount":       req.Amount,
			"currency":     req.Currency,
			"provider_ref": res.ProviderRef,
		},
	})
	s.log.Info().
		Str("user_id", params.UserID.String()).
		Str("gateway", string(params.Gateway)).
		Str("type", string(params.Type)).
		Int64("amount", req.Amount).
		Str("provider_ref", res.ProviderRef).
		Msg("checkout order created")

	return res, nil
}

// VerifyPayment confirms a client-reported payment against the provider and
// settles it. The provider's answer is authoritative; the client only
// supplies the reference to look at.
func (s *CheckoutServiceImpl) VerifyPayment(ctx context.Context, params ports.VerifyParams) (*domain.Transaction, error) {
	adapter, _, err := s.enabledAdapter(ctx, params.Gateway)
	if err != nil {
		return nil, err
	}

	st, err := adapter.FetchStatus(ctx, params.ExternalRef)
	if err != nil {
		return nil, err
	}
	if !st.Paid {
		return nil, apperror.Validation(fmt.Sprintf("payment not completed, provider status %q", st.Status))
	}
	// The reference must belong to the caller. Not revealing whether it
	// exists at all keeps references unguessable.
	if st.Data.UserID != "" && st.Data.UserID != params.UserID.String() {
		return nil, apperror.ErrNotFound("payment")
	}

	if st.Data.Type == string(domain.TransactionTypeSubscription) &&
		st.Data.SubscriptionRef != "" && st.Data.PlanID != "" {
		_, err := s.subs.Activate(ctx, ports.ActivateParams{
			UserID:        params.UserID,
			PlanID:        st.Data.PlanID,
			Gateway:       params.Gateway,
			ExternalSubID: st.Data.SubscriptionRef,
			PaymentRef:    st.ExternalRef,
			Amount:        st.Amount,
			Currency:      st.Currency,
		})
		if err != nil && !apperror.IsDuplicate(err) {
			return nil, err
		}
		return s.ledger.GetByGatewayRef(ctx, params.Gateway, st.ExternalRef)
	}

	commitType := domain.TransactionTypeOneTime
	switch st.Data.Type {
	case string(domain.TransactionTypeCredits):
		commitType = domain.TransactionTypeCredits
	case string(domain.TransactionTypeSubscription):
		commitType = domain.TransactionTypeSubscription
	}

	credits := st.Data.Credits
	if credits == 0 && st.Data.CreditPackageID != "" {
		pkg, err := s.planRepo.GetCreditPackage(ctx, st.Data.CreditPackageID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get credit package: %w", err))
		}
		if pkg != nil {
			credits = pkg.Credits
		}
	}

	commit := ports.CommitParams{
		UserID:      params.UserID,
		Type:        commitType,
		Gateway:     params.Gateway,
		ExternalRef: st.ExternalRef,
		Amount:      st.Amount,
		Currency:    st.Currency,
		Credits:     credits,
	}
	if st.Data.CreditPackageID != "" {
		pkgID := st.Data.CreditPackageID
		commit.CreditPackageID = &pkgID
	}

	txn, err := s.ledger.Commit(ctx, commit)
	if apperror.IsDuplicate(err) {
		// The webhook got here first; its row is the answer.
		return txn, nil
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *CheckoutServiceImpl) enabledAdapter(ctx context.Context, g domain.Gateway) (ports.GatewayAdapter, ports.GatewayCredentials, error) {
	adapter, ok := s.registry.Get(string(g))
	if !ok {
		return nil, ports.GatewayCredentials{}, apperror.ErrUnknownGateway(string(g))
	}
	creds, err := s.settings.Gateway(ctx, g)
	if err != nil {
		return nil, ports.GatewayCredentials{}, err
	}
	if !creds.Enabled {
		return nil, ports.GatewayCredentials{}, apperror.ErrUnknownGateway(string(g))
	}
	return adapter, creds, nil
}
