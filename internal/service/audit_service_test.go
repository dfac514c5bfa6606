package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/internal/core/ports/mocks"
)

func TestAuditService_Record_PersistsToRepo(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(repo, zerolog.Nop())

	userID := uuid.New()
	gw := domain.GatewayStripe

	// Record is fire-and-forget, so the write lands on a goroutine.
	// Synchronize through the mock.
	done := make(chan *domain.AuditLogEntry, 1)
	repo.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, entry *domain.AuditLogEntry) error {
			done <- entry
			return nil
		})

	svc.Record(context.Background(), domain.AuditLogEntry{
		Action:  domain.AuditWebhookReceived,
		Gateway: &gw,
		UserID:  &userID,
		Details: map[string]any{"event_type": "invoice.paid"},
	})

	select {
	case entry := <-done:
		assert.Equal(t, domain.AuditWebhookReceived, entry.Action)
		assert.Equal(t, &userID, entry.UserID)
		assert.NotEqual(t, uuid.Nil, entry.ID, "entry should get an ID assigned")
		assert.False(t, entry.CreatedAt.IsZero(), "entry should get a timestamp")
	case <-time.After(2 * time.Second):
		t.Fatal("audit entry was never persisted")
	}
}

func TestAuditService_Record_RepoFailureIsSwallowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(repo, zerolog.Nop())

	done := make(chan struct{})
	repo.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ *domain.AuditLogEntry) error {
			close(done)
			return assert.AnError
		})

	// Must not panic or surface the error to the caller.
	svc.Record(context.Background(), domain.AuditLogEntry{Action: domain.AuditConfigChanged})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audit entry was never attempted")
	}
}

func TestAuditService_Record_NilRepoOnlyLogs(t *testing.T) {
	svc := NewAuditService(nil, zerolog.Nop())

	// Nothing to assert beyond "does not panic"; give the goroutine a
	// moment to run before the test returns.
	svc.Record(context.Background(), domain.AuditLogEntry{Action: domain.AuditPaymentInitiated})
	time.Sleep(50 * time.Millisecond)
}

func TestAuditService_List_PassesFiltersThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(repo, zerolog.Nop())

	action := domain.AuditRefundInitiated
	params := ports.AuditListParams{Action: &action, Page: 2, PageSize: 25}
	entries := []domain.AuditLogEntry{{ID: uuid.New(), Action: action}}

	repo.EXPECT().List(gomock.Any(), params).Return(entries, int64(51), nil)

	got, total, err := svc.List(context.Background(), params)

	require.NoError(t, err)
	assert.Equal(t, int64(51), total)
	assert.Equal(t, entries, got)
}
