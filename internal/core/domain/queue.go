package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus is the dead-letter item state.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusExpired    QueueStatus = "expired"
)

const (
	// DefaultMaxAttempts bounds retries per item.
	DefaultMaxAttempts = 5
	// QueueItemLifetime is the hard cap past which an item is never retried.
	QueueItemLifetime = 24 * time.Hour

	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = time.Hour
)

// AttemptError is one entry in an item's ordered error history.
type AttemptError struct {
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookQueueItem is a dead-letter record for a webhook whose processing
// failed after signature verification. Re-dispatch is safe because the
// idempotency guard makes reprocessing committed events a no-op.
type WebhookQueueItem struct {
	ID           uuid.UUID      `json:"id"`
	Gateway      Gateway        `json:"gateway"`
	EventType    string         `json:"event_type"`
	EventID      string         `json:"event_id"`
	Payload      []byte         `json:"payload"`
	Status       QueueStatus    `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	MaxAttempts  int            `json:"max_attempts"`
	LastError    *string        `json:"last_error,omitempty"`
	ErrorHistory []AttemptError `json:"error_history"`
	ReceivedAt   time.Time      `json:"received_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
	NextRetryAt  time.Time      `json:"next_retry_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewQueueItem builds a pending item whose first retry is due immediately.
func NewQueueItem(gateway Gateway, eventType, eventID string, payload []byte, now time.Time) *WebhookQueueItem {
	return &WebhookQueueItem{
		ID:           uuid.New(),
		Gateway:      gateway,
		EventType:    eventType,
		EventID:      eventID,
		Payload:      payload,
		Status:       QueueStatusPending,
		AttemptCount: 0,
		MaxAttempts:  DefaultMaxAttempts,
		ReceivedAt:   now,
		ExpiresAt:    now.Add(QueueItemLifetime),
		NextRetryAt:  now,
		UpdatedAt:    now,
	}
}

// RetryBackoff returns the delay before the given attempt number retries:
// 30s doubling per attempt, capped at one hour.
func RetryBackoff(attempt int) time.Duration {
	d := retryBaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}

// Expired reports whether the item passed its hard lifetime cap.
func (w *WebhookQueueItem) Expired(now time.Time) bool {
	return !now.Before(w.ExpiresAt)
}

// Retryable reports whether a sweeper may pick this item up now: pending or
// failed, retry due, attempts left, and not past the lifetime cap.
func (w *WebhookQueueItem) Retryable(now time.Time) bool {
	if w.Status != QueueStatusPending && w.Status != QueueStatusFailed {
		return false
	}
	if w.AttemptCount >= w.MaxAttempts {
		return false
	}
	if w.Expired(now) {
		return false
	}
	return !w.NextRetryAt.After(now)
}

// RecordFailure registers a failed attempt: bumps the counter, appends to
// the error history, and schedules the next retry with exponential backoff.
func (w *WebhookQueueItem) RecordFailure(errMsg string, now time.Time) {
	w.AttemptCount++
	w.LastError = &errMsg
	w.ErrorHistory = append(w.ErrorHistory, AttemptError{
		Attempt:   w.AttemptCount,
		Error:     errMsg,
		Timestamp: now,
	})
	w.Status = QueueStatusFailed
	w.NextRetryAt = now.Add(RetryBackoff(w.AttemptCount))
	w.UpdatedAt = now
}

// MarkCompleted finalizes the item after a successful re-dispatch.
func (w *WebhookQueueItem) MarkCompleted(now time.Time) {
	w.Status = QueueStatusCompleted
	w.UpdatedAt = now
}

// MarkExpired moves the item out of every future sweep. Operator
// intervention is the only way forward from here.
func (w *WebhookQueueItem) MarkExpired(now time.Time) {
	w.Status = QueueStatusExpired
	w.UpdatedAt = now
}
