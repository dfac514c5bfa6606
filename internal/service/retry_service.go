package service

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"payment-reconciler/config"
	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// retryHeap is a min-heap of queue items ordered by NextRetryAt. It is the
// sweeper's in-process schedule index; storage stays the source of truth.
type retryHeap []*domain.WebhookQueueItem

func (h retryHeap) Len() int           { return len(h) }
func (h retryHeap) Less(i, j int) bool { return h[i].NextRetryAt.Before(h[j].NextRetryAt) }
func (h retryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *retryHeap) Push(x any) {
	*h = append(*h, x.(*domain.WebhookQueueItem))
}

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// RetryServiceImpl owns the webhook dead-letter queue: enqueueing failed
// deliveries, sweeping due items back through the dispatcher, and the admin
// requeue escape hatch.
//
// Re-dispatching is safe to repeat because every money-moving handler sits
// behind the ledger's idempotency guard; the worst a double sweep can do is
// earn an already_processed. MarkProcessing's guarded claim keeps two
// sweeper processes off the same item anyway.
type RetryServiceImpl struct {
	queueRepo  ports.WebhookQueueRepository
	registry   ports.GatewayRegistry
	dispatcher ports.Dispatcher
	audit      ports.AuditService
	log        zerolog.Logger

	maxAttempts int
	batchSize   int
	lease       time.Duration

	mu     sync.Mutex
	sched  retryHeap
	queued map[uuid.UUID]struct{}
}

// NewRetryService creates a new RetryServiceImpl.
func NewRetryService(
	queueRepo ports.WebhookQueueRepository,
	registry ports.GatewayRegistry,
	dispatcher ports.Dispatcher,
	audit ports.AuditService,
	cfg config.RetryConfig,
	log zerolog.Logger,
) *RetryServiceImpl {
	s := &RetryServiceImpl{
		queueRepo:   queueRepo,
		registry:    registry,
		dispatcher:  dispatcher,
		audit:       audit,
		log:         log,
		maxAttempts: cfg.MaxAttempts,
		batchSize:   cfg.BatchSize,
		lease:       cfg.ProcessingLease,
		queued:      make(map[uuid.UUID]struct{}),
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = domain.DefaultMaxAttempts
	}
	if s.batchSize <= 0 {
		s.batchSize = 50
	}
	if s.lease <= 0 {
		s.lease = 5 * time.Minute
	}
	heap.Init(&s.sched)
	return s
}

// Enqueue records a failed delivery for durable retry, deduplicated on
// (gateway, event id). A redelivery of an event whose item is already
// scheduled is a no-op; one whose item exhausted or expired reopens it with
// a fresh delivery window.
func (s *RetryServiceImpl) Enqueue(ctx context.Context, gateway domain.Gateway, eventType, eventID string, payload []byte, cause error) error {
	now := time.Now().UTC()

	existing, err := s.queueRepo.GetByEventID(ctx, gateway, eventID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get queue item: %w", err))
	}
	if existing != nil {
		switch {
		case existing.Status == domain.QueueStatusCompleted,
			existing.Status == domain.QueueStatusProcessing,
			existing.Status == domain.QueueStatusPending:
			return nil
		case existing.Retryable(now):
			return nil // failed, but retries are still scheduled
		}

		msg := cause.Error()
		existing.Status = domain.QueueStatusPending
		existing.AttemptCount = 0
		existing.LastError = &msg
		existing.Payload = payload
		existing.ReceivedAt = now
		existing.ExpiresAt = now.Add(domain.QueueItemLifetime)
		existing.NextRetryAt = now
		existing.UpdatedAt = now
		if err := s.queueRepo.Update(ctx, existing); err != nil {
			return apperror.InternalError(fmt.Errorf("refresh queue item: %w", err))
		}
		s.log.Info().
			Str("gateway", string(gateway)).
			Str("event_id", eventID).
			Msg("dead-letter item reopened for redelivery")
		return nil
	}

	item := domain.NewQueueItem(gateway, eventType, eventID, payload, now)
	item.MaxAttempts = s.maxAttempts
	msg := cause.Error()
	item.LastError = &msg
	if err := s.queueRepo.Create(ctx, item); err != nil {
		if apperror.IsDuplicate(err) {
			// Two deliveries of the same event raced; one row is enough.
			return nil
		}
		return apperror.InternalError(fmt.Errorf("create queue item: %w", err))
	}

	s.log.Info().
		Str("gateway", string(gateway)).
		Str("event_type", eventType).
		Str("event_id", eventID).
		Str("cause", msg).
		Msg("webhook queued for retry")
	return nil
}

// ProcessDue runs one sweep: recover items stranded by a crashed sweeper,
// refill the schedule from storage, then re-dispatch everything due at now.
// Returns how many items were attempted.
func (s *RetryServiceImpl) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	if released, err := s.queueRepo.ReleaseStale(ctx, now.Add(-s.lease)); err != nil {
		s.log.Error().Err(err).Msg("failed to release stale processing items")
	} else if released > 0 {
		s.log.Warn().Int64("count", released).Msg("released stale processing items")
	}

	if err := s.refill(ctx, now); err != nil {
		return 0, err
	}

	attempted := 0
	for {
		item := s.popDue(now)
		if item == nil {
			break
		}
		s.processItem(ctx, item, now)
		attempted++
	}
	return attempted, nil
}

func (s *RetryServiceImpl) refill(ctx context.Context, now time.Time) error {
	due, err := s.queueRepo.GetRetryable(ctx, now, s.batchSize)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get retryable items: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range due {
		item := due[i]
		if _, ok := s.queued[item.ID]; ok {
			continue
		}
		s.queued[item.ID] = struct{}{}
		heap.Push(&s.sched, &item)
	}
	return nil
}

func (s *RetryServiceImpl) popDue(now time.Time) *domain.WebhookQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched.Len() == 0 || s.sched[0].NextRetryAt.After(now) {
		return nil
	}
	item := heap.Pop(&s.sched).(*domain.WebhookQueueItem)
	delete(s.queued, item.ID)
	return item
}

func (s *RetryServiceImpl) processItem(ctx context.Context, item *domain.WebhookQueueItem, now time.Time) {
	claimed, err := s.queueRepo.MarkProcessing(ctx, item.ID, now)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("item_id", item.ID.String()).
			Msg("failed to claim queue item")
		return
	}
	if !claimed {
		return // another sweeper won the claim
	}

	if item.Expired(now) {
		item.MarkExpired(now)
		s.persist(ctx, item)
		s.flagAbandoned(ctx, item, "retry lifetime exceeded")
		return
	}

	res, dispatchErr := s.redispatch(ctx, item)
	if dispatchErr == nil {
		item.MarkCompleted(now)
		s.persist(ctx, item)
		s.log.Info().
			Str("item_id", item.ID.String()).
			Str("gateway", string(item.Gateway)).
			Str("event_id", item.EventID).
			Str("action", res.Action).
			Int("attempt", item.AttemptCount+1).
			Msg("dead-letter item settled")
		return
	}

	item.RecordFailure(dispatchErr.Error(), now)
	if !apperror.Retryable(dispatchErr) {
		// A final error cannot succeed on a later attempt; burn the rest.
		item.AttemptCount = item.MaxAttempts
	}
	if item.Expired(now) {
		item.MarkExpired(now)
	}
	s.persist(ctx, item)

	if item.Status == domain.QueueStatusExpired || item.AttemptCount >= item.MaxAttempts {
		s.flagAbandoned(ctx, item, dispatchErr.Error())
		return
	}
	s.log.Warn().
		Str("item_id", item.ID.String()).
		Str("event_id", item.EventID).
		Int("attempt", item.AttemptCount).
		Time("next_retry_at", item.NextRetryAt).
		Err(dispatchErr).
		Msg("dead-letter retry failed")
}

func (s *RetryServiceImpl) redispatch(ctx context.Context, item *domain.WebhookQueueItem) (*domain.HandlerResult, error) {
	adapter, ok := s.registry.Get(string(item.Gateway))
	if !ok {
		return nil, apperror.ErrUnknownGateway(string(item.Gateway))
	}
	ev, err := adapter.Normalize(item.Payload)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.Dispatch(ctx, ev)
}

func (s *RetryServiceImpl) persist(ctx context.Context, item *domain.WebhookQueueItem) {
	if err := s.queueRepo.Update(ctx, item); err != nil {
		s.log.Error().
			Err(err).
			Str("item_id", item.ID.String()).
			Msg("failed to persist queue item state")
	}
}

// flagAbandoned marks the end of automatic processing for an item. From
// here only an operator (requeue or manual reconciliation) moves it.
func (s *RetryServiceImpl) flagAbandoned(ctx context.Context, item *domain.WebhookQueueItem, reason string) {
	g := item.Gateway
	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:  domain.AuditReconciliationRequired,
		Gateway: &g,
		Details: map[string]any{
			"queue_item_id": item.ID.String(),
			"event_type":    item.EventType,
			"event_id":      item.EventID,
			"attempts":      item.AttemptCount,
			"status":        string(item.Status),
			"reason":        reason,
		},
	})
	s.log.Error().
		Str("item_id", item.ID.String()).
		Str("gateway", string(item.Gateway)).
		Str("event_id", item.EventID).
		Int("attempts", item.AttemptCount).
		Str("status", string(item.Status)).
		Msg("dead-letter item abandoned")
}

// Requeue resets an exhausted or expired item so the sweeper picks it up
// again. Admin-only escape hatch for items fixed out of band.
func (s *RetryServiceImpl) Requeue(ctx context.Context, id uuid.UUID) (*domain.WebhookQueueItem, error) {
	item, err := s.queueRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get queue item: %w", err))
	}
	if item == nil {
		return nil, apperror.ErrNotFound("queue item")
	}
	if item.Status == domain.QueueStatusCompleted || item.Status == domain.QueueStatusProcessing {
		return nil, apperror.Validation(fmt.Sprintf("queue item in state %s cannot be requeued", item.Status))
	}

	now := time.Now().UTC()
	item.Status = domain.QueueStatusPending
	item.AttemptCount = 0
	item.NextRetryAt = now
	item.ExpiresAt = now.Add(domain.QueueItemLifetime)
	item.UpdatedAt = now
	if err := s.queueRepo.Update(ctx, item); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("requeue item: %w", err))
	}

	s.log.Info().
		Str("item_id", item.ID.String()).
		Str("gateway", string(item.Gateway)).
		Str("event_id", item.EventID).
		Msg("queue item manually requeued")
	return item, nil
}

// List exposes the queue for dead-letter inspection.
func (s *RetryServiceImpl) List(ctx context.Context, params ports.QueueListParams) ([]domain.WebhookQueueItem, int64, error) {
	items, total, err := s.queueRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list queue items: %w", err))
	}
	return items, total, nil
}
