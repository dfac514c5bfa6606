package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// The in-memory repos mirror the postgres contracts closely enough for
// full-stack tests: the transaction repo enforces the unique
// (gateway, gateway_transaction_id) index and surfaces replays as DUP_001,
// and every getter returns a copy so nothing escapes the mutex. What they
// cannot mirror is rollback; the noop transactor commits everything, so
// tests assert ledger invariants rather than mid-transaction atomicity.

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID]*domain.Transaction
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{transactions: make(map[uuid.UUID]*domain.Transaction)}
}

func (r *inMemoryTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.GatewayTransactionID != nil {
		for _, existing := range r.transactions {
			if existing.Gateway == t.Gateway &&
				existing.GatewayTransactionID != nil &&
				*existing.GatewayTransactionID == *t.GatewayTransactionID {
				return apperror.ErrDuplicate(*t.GatewayTransactionID)
			}
		}
	}
	cp := *t
	r.transactions[t.ID] = &cp
	return nil
}

func (r *inMemoryTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryTransactionRepo) GetByGatewayTransactionID(ctx context.Context, gateway domain.Gateway, gatewayTxnID string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transactions {
		if t.Gateway == gateway && t.GatewayTransactionID != nil && *t.GatewayTransactionID == gatewayTxnID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryTransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found")
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryTransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Transaction
	for _, t := range r.transactions {
		if params.UserID != nil && t.UserID != *params.UserID {
			continue
		}
		if params.Gateway != nil && t.Gateway != *params.Gateway {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		if params.Type != nil && t.Type != *params.Type {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return paginate(result, params.Page, params.PageSize)
}

func (r *inMemoryTransactionRepo) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transactions)
}

// --- In-Memory Subscription Repo ---

type inMemorySubscriptionRepo struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*domain.UserSubscription
}

func newInMemorySubscriptionRepo() *inMemorySubscriptionRepo {
	return &inMemorySubscriptionRepo{subs: make(map[uuid.UUID]*domain.UserSubscription)}
}

func (r *inMemorySubscriptionRepo) Create(ctx context.Context, tx pgx.Tx, sub *domain.UserSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *inMemorySubscriptionRepo) Update(ctx context.Context, tx pgx.Tx, sub *domain.UserSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; !ok {
		return fmt.Errorf("subscription not found")
	}
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *inMemorySubscriptionRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subs {
		if s.UserID == userID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemorySubscriptionRepo) GetByExternalID(ctx context.Context, gateway domain.Gateway, externalID string) (*domain.UserSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subs {
		if ext := s.ExternalID(gateway); ext != nil && *ext == externalID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

// backdate rewinds a subscription's billing window, simulating a period
// that started long ago. Used to make renewal extension observable.
func (r *inMemorySubscriptionRepo) backdate(subID uuid.UUID, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[subID]; ok {
		s.CurrentPeriodStart = start
		s.CurrentPeriodEnd = end
	}
}

// --- In-Memory Refund Repo ---

type inMemoryRefundRepo struct {
	mu      sync.RWMutex
	refunds map[uuid.UUID]*domain.Refund
}

func newInMemoryRefundRepo() *inMemoryRefundRepo {
	return &inMemoryRefundRepo{refunds: make(map[uuid.UUID]*domain.Refund)}
}

func (r *inMemoryRefundRepo) Create(ctx context.Context, tx pgx.Tx, refund *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.refunds {
		if existing.TransactionID == refund.TransactionID {
			return apperror.ErrDuplicate(refund.TransactionID.String())
		}
	}
	cp := *refund
	r.refunds[refund.ID] = &cp
	return nil
}

func (r *inMemoryRefundRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	re, ok := r.refunds[id]
	if !ok {
		return nil, nil
	}
	cp := *re
	return &cp, nil
}

func (r *inMemoryRefundRepo) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, re := range r.refunds {
		if re.TransactionID == transactionID {
			cp := *re
			return &cp, nil
		}
	}
	return nil, nil
}

// --- In-Memory User Repo ---

type inMemoryUserRepo struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

func newInMemoryUserRepo(seed ...*domain.User) *inMemoryUserRepo {
	r := &inMemoryUserRepo{users: make(map[uuid.UUID]*domain.User)}
	for _, u := range seed {
		cp := *u
		r.users[u.ID] = &cp
	}
	return r
}

func (r *inMemoryUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *inMemoryUserRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryUserRepo) AdjustCredits(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return 0, fmt.Errorf("user not found")
	}
	u.Credits += delta
	u.UpdatedAt = time.Now().UTC()
	return u.Credits, nil
}

func (r *inMemoryUserRepo) SetActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return fmt.Errorf("user not found")
	}
	u.Active = active
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryUserRepo) credits(userID uuid.UUID) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[userID]; ok {
		return u.Credits
	}
	return 0
}

// --- In-Memory Plan Repo ---

type inMemoryPlanRepo struct {
	plans    map[string]*domain.Plan
	packages map[string]*domain.CreditPackage
}

func newInMemoryPlanRepo(plans []*domain.Plan, packages []*domain.CreditPackage) *inMemoryPlanRepo {
	r := &inMemoryPlanRepo{
		plans:    make(map[string]*domain.Plan),
		packages: make(map[string]*domain.CreditPackage),
	}
	for _, p := range plans {
		r.plans[p.ID] = p
	}
	for _, p := range packages {
		r.packages[p.ID] = p
	}
	return r
}

func (r *inMemoryPlanRepo) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	p, ok := r.plans[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *inMemoryPlanRepo) GetCreditPackage(ctx context.Context, id string) (*domain.CreditPackage, error) {
	p, ok := r.packages[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// --- In-Memory Webhook Queue Repo ---

type inMemoryQueueRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*domain.WebhookQueueItem
}

func newInMemoryQueueRepo() *inMemoryQueueRepo {
	return &inMemoryQueueRepo{items: make(map[uuid.UUID]*domain.WebhookQueueItem)}
}

func (r *inMemoryQueueRepo) Create(ctx context.Context, item *domain.WebhookQueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *inMemoryQueueRepo) Update(ctx context.Context, item *domain.WebhookQueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; !ok {
		return fmt.Errorf("queue item not found")
	}
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *inMemoryQueueRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookQueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (r *inMemoryQueueRepo) GetByEventID(ctx context.Context, gateway domain.Gateway, eventID string) (*domain.WebhookQueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, item := range r.items {
		if item.Gateway == gateway && item.EventID == eventID {
			cp := *item
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryQueueRepo) GetRetryable(ctx context.Context, now time.Time, limit int) ([]domain.WebhookQueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []domain.WebhookQueueItem
	for _, item := range r.items {
		if item.Retryable(now) {
			due = append(due, *item)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *inMemoryQueueRepo) MarkProcessing(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return false, nil
	}
	if item.Status != domain.QueueStatusPending && item.Status != domain.QueueStatusFailed {
		return false, nil
	}
	item.Status = domain.QueueStatusProcessing
	item.UpdatedAt = now
	return true, nil
}

func (r *inMemoryQueueRepo) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released int64
	for _, item := range r.items {
		if item.Status == domain.QueueStatusProcessing && item.UpdatedAt.Before(olderThan) {
			item.Status = domain.QueueStatusFailed
			item.UpdatedAt = time.Now().UTC()
			released++
		}
	}
	return released, nil
}

func (r *inMemoryQueueRepo) List(ctx context.Context, params ports.QueueListParams) ([]domain.WebhookQueueItem, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.WebhookQueueItem
	for _, item := range r.items {
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		if params.Gateway != nil && item.Gateway != *params.Gateway {
			continue
		}
		result = append(result, *item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ReceivedAt.After(result[j].ReceivedAt) })
	return paginate(result, params.Page, params.PageSize)
}

// --- In-Memory Audit Repo ---

type inMemoryAuditRepo struct {
	mu      sync.RWMutex
	entries []domain.AuditLogEntry
}

func newInMemoryAuditRepo() *inMemoryAuditRepo {
	return &inMemoryAuditRepo{}
}

func (r *inMemoryAuditRepo) Create(ctx context.Context, entry *domain.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *inMemoryAuditRepo) List(ctx context.Context, params ports.AuditListParams) ([]domain.AuditLogEntry, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.AuditLogEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if params.Action != nil && e.Action != *params.Action {
			continue
		}
		if params.UserID != nil && (e.UserID == nil || *e.UserID != *params.UserID) {
			continue
		}
		if params.Gateway != nil && (e.Gateway == nil || *e.Gateway != *params.Gateway) {
			continue
		}
		result = append(result, e)
	}
	return paginate(result, params.Page, params.PageSize)
}

func (r *inMemoryAuditRepo) countByAction(action domain.AuditAction) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// --- In-Memory Setting Repo ---

type inMemorySettingRepo struct {
	mu       sync.RWMutex
	settings map[string]*domain.Setting
}

func newInMemorySettingRepo() *inMemorySettingRepo {
	return &inMemorySettingRepo{settings: make(map[string]*domain.Setting)}
}

func (r *inMemorySettingRepo) Get(ctx context.Context, key string) (*domain.Setting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settings[key]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *inMemorySettingRepo) Set(ctx context.Context, key string, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[key] = &domain.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

// --- Shared helpers ---

func paginate[T any](all []T, page, pageSize int) ([]T, int64, error) {
	total := int64(len(all))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []T{}, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }
