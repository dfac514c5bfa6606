package service

import (
	"context"
	"errors"
	"testing"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/internal/core/ports/mocks"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerTestDeps struct {
	svc        *LedgerServiceImpl
	txRepo     *mocks.MockTransactionRepository
	userRepo   *mocks.MockUserRepository
	transactor *mocks.MockDBTransactor
	audit      *mocks.MockAuditService
	notifier   *mocks.MockNotifier
	ctrl       *gomock.Controller
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		userRepo:   mocks.NewMockUserRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		audit:      mocks.NewMockAuditService(ctrl),
		notifier:   mocks.NewMockNotifier(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewLedgerService(
		d.txRepo, d.userRepo, d.transactor, d.audit, d.notifier, zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}

// ==================== Commit Tests ====================

func TestLedgerService_Commit_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	tx := &mockTx{}
	pkgID := "credits_500"

	params := ports.CommitParams{
		UserID:          userID,
		Type:            domain.TransactionTypeCredits,
		Gateway:         domain.GatewayStripe,
		ExternalRef:     "pi_abc123",
		Amount:          1999,
		Currency:        "USD",
		Credits:         500,
		CreditPackageID: &pkgID,
	}

	// Idempotency pre-check misses
	d.txRepo.EXPECT().GetByGatewayTransactionID(ctx, domain.GatewayStripe, "pi_abc123").Return(nil, nil)
	// Begin tx
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	// Ledger row persisted
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, userID, txn.UserID)
			assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
			assert.Equal(t, "pi_abc123", *txn.GatewayTransactionID)
			assert.Equal(t, int64(500), txn.CreditsAwarded)
			require.NotNil(t, txn.CompletedAt)
			return nil
		})
	// Credits granted in the same tx
	d.userRepo.EXPECT().AdjustCredits(ctx, tx, userID, int64(500)).Return(int64(750), nil)
	// Post-commit audit + notification
	d.audit.EXPECT().Record(ctx, gomock.Any()).Times(2)
	d.notifier.EXPECT().PaymentConfirmed(ctx, userID, gomock.Any())

	txn, err := d.svc.Commit(ctx, params)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, domain.TransactionTypeCredits, txn.Type)
	assert.Equal(t, int64(1999), txn.Amount)
}

func TestLedgerService_Commit_NoCreditsSkipsGrant(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	tx := &mockTx{}

	d.txRepo.EXPECT().GetByGatewayTransactionID(ctx, domain.GatewayPayPal, "CAP-1").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	// No AdjustCredits call expected; one audit entry, not two
	d.audit.EXPECT().Record(ctx, gomock.Any()).Times(1)
	d.notifier.EXPECT().PaymentConfirmed(ctx, userID, gomock.Any())

	txn, err := d.svc.Commit(ctx, ports.CommitParams{
		UserID:      userID,
		Type:        domain.TransactionTypeOneTime,
		Gateway:     domain.GatewayPayPal,
		ExternalRef: "CAP-1",
		Amount:      5000,
		Currency:    "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), txn.CreditsAwarded)
}

func TestLedgerService_Commit_DuplicatePreCheck(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	existing := &domain.Transaction{ID: uuid.New(), Status: domain.TransactionStatusCompleted}

	// Pre-check finds the earlier delivery's row; no tx is opened at all.
	d.txRepo.EXPECT().GetByGatewayTransactionID(ctx, domain.GatewayStripe, "pi_replay").Return(existing, nil)

	txn, err := d.svc.Commit(ctx, ports.CommitParams{
		UserID:      uuid.New(),
		Type:        domain.TransactionTypeCredits,
		Gateway:     domain.GatewayStripe,
		ExternalRef: "pi_replay",
		Amount:      1000,
		Currency:    "USD",
	})
	assertAppError(t, err, "DUP_001")
	assert.Equal(t, existing, txn)
}

func TestLedgerService_Commit_DuplicateRace(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	tx := &mockTx{}
	winner := &domain.Transaction{ID: uuid.New(), UserID: userID}

	// Pre-check misses, then the unique index catches the race on insert.
	d.txRepo.EXPECT().GetByGatewayTransactionID(ctx, domain.GatewayRazorpay, "pay_race").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(apperror.ErrDuplicate("pay_race"))
	// Loser refetches the winner's row
	d.txRepo.EXPECT().GetByGatewayTransactionID(ctx, domain.GatewayRazorpay, "pay_race").Return(winner, nil)

	txn, err := d.svc.Commit(ctx, ports.CommitParams{
		UserID:      userID,
		Type:        domain.TransactionTypeCredits,
		Gateway:     domain.GatewayRazorpay,
		ExternalRef: "pay_race",
		Amount:      2500,
		Currency:    "INR",
		Credits:     100,
	})
	assertAppError(t, err, "DUP_001")
	assert.Equal(t, winner, txn)
}

func TestLedgerService_Commit_EmptyRef(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Commit(context.Background(), ports.CommitParams{
		UserID:  uuid.New(),
		Gateway: domain.GatewayStripe,
		Amount:  100,
	})
	assertAppError(t, err, "VAL_001")
}

func TestLedgerService_Commit_NegativeAmount(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Commit(context.Background(), ports.CommitParams{
		UserID:      uuid.New(),
		Gateway:     domain.GatewayStripe,
		ExternalRef: "pi_neg",
		Amount:      -1,
	})
	assertAppError(t, err, "VAL_002")
}

func TestLedgerService_Commit_MissingUser(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Commit(context.Background(), ports.CommitParams{
		Gateway:     domain.GatewayStripe,
		ExternalRef: "pi_nouser",
		Amount:      100,
	})
	assertAppError(t, err, "VAL_001")
}

func TestLedgerService_Commit_CreditGrantFailureRollsBack(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	tx := &mockTx{}

	d.txRepo.EXPECT().GetByGatewayTransactionID(ctx, domain.GatewayStripe, "pi_fail").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.userRepo.EXPECT().AdjustCredits(ctx, tx, userID, int64(200)).Return(int64(0), errors.New("db down"))

	_, err := d.svc.Commit(ctx, ports.CommitParams{
		UserID:      userID,
		Type:        domain.TransactionTypeCredits,
		Gateway:     domain.GatewayStripe,
		ExternalRef: "pi_fail",
		Amount:      999,
		Currency:    "USD",
		Credits:     200,
	})
	assertAppError(t, err, "SYS_001")
}

// ==================== GetByGatewayRef Tests ====================

func TestLedgerService_GetByGatewayRef_Found(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	want := &domain.Transaction{ID: uuid.New()}
	d.txRepo.EXPECT().GetByGatewayTransactionID(ctx, domain.GatewayPaystack, "ref_1").Return(want, nil)

	got, err := d.svc.GetByGatewayRef(ctx, domain.GatewayPaystack, "ref_1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLedgerService_GetByGatewayRef_NotFound(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.txRepo.EXPECT().GetByGatewayTransactionID(ctx, domain.GatewayPaystack, "ref_miss").Return(nil, nil)

	_, err := d.svc.GetByGatewayRef(ctx, domain.GatewayPaystack, "ref_miss")
	assertAppError(t, err, "REF_001")
}

// ==================== ListTransactions Tests ====================

func TestLedgerService_ListTransactions(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	rows := []domain.Transaction{{ID: uuid.New()}, {ID: uuid.New()}}
	params := ports.TransactionListParams{Page: 1, PageSize: 20}
	d.txRepo.EXPECT().List(ctx, params).Return(rows, int64(2), nil)

	got, total, err := d.svc.ListTransactions(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, got, 2)
}
