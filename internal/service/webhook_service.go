package service

import (
	"context"
	"net/http"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"

	"github.com/rs/zerolog"
)

// WebhookServiceImpl orchestrates one webhook delivery end to end: resolve
// the adapter, authenticate, normalize, dispatch, and enqueue for retry
// when the dispatch failure is worth retrying.
//
// Ordering is deliberate. Verification runs before anything touches the
// payload, so forged bodies never reach a parser and never enter the retry
// queue. Validation and authentication failures are final: replaying a
// malformed or forged delivery can only fail the same way again.
type WebhookServiceImpl struct {
	registry   ports.GatewayRegistry
	settings   ports.SettingsService
	dispatcher ports.Dispatcher
	retry      ports.RetryService
	audit      ports.AuditService
	log        zerolog.Logger
}

// NewWebhookService creates a new WebhookServiceImpl.
func NewWebhookService(
	registry ports.GatewayRegistry,
	settings ports.SettingsService,
	dispatcher ports.Dispatcher,
	retry ports.RetryService,
	audit ports.AuditService,
	log zerolog.Logger,
) *WebhookServiceImpl {
	return &WebhookServiceImpl{
		registry:   registry,
		settings:   settings,
		dispatcher: dispatcher,
		retry:      retry,
		audit:      audit,
		log:        log,
	}
}

// HandleWebhook processes one raw delivery from a provider.
func (s *WebhookServiceImpl) HandleWebhook(ctx context.Context, gateway string, rawBody []byte, headers http.Header) (*domain.HandlerResult, error) {
	adapter, ok := s.registry.Get(gateway)
	if !ok {
		return nil, apperror.ErrUnknownGateway(gateway)
	}
	g := adapter.Name()

	creds, err := s.settings.Gateway(ctx, g)
	if err != nil {
		return nil, err
	}
	if !creds.Enabled {
		// A disabled gateway is indistinguishable from an unknown one.
		return nil, apperror.ErrUnknownGateway(gateway)
	}

	if err := adapter.Verify(ctx, rawBody, headers); err != nil {
		s.audit.Record(ctx, domain.AuditLogEntry{
			Action:  domain.AuditWebhookRejected,
			Gateway: &g,
			Details: map[string]any{"error": err.Error()},
		})
		s.log.Warn().
			Str("gateway", string(g)).
			Err(err).
			Msg("webhook rejected")
		return nil, err
	}

	s.audit.Record(ctx, domain.AuditLogEntry{
		Action:  domain.AuditWebhookReceived,
		Gateway: &g,
		Details: map[string]any{"bytes": len(rawBody)},
	})

	ev, err := adapter.Normalize(rawBody)
	if err != nil {
		s.log.Warn().
			Str("gateway", string(g)).
			Err(err).
			Msg("webhook payload failed normalization")
		return nil, err
	}

	res, err := s.dispatcher.Dispatch(ctx, ev)
	if err == nil {
		return res, nil
	}
	if !apperror.Retryable(err) {
		return nil, err
	}

	// The provider will redeliver on our 500, but its schedule is not ours
	// to control. The queue item makes the retry durable and bounded.
	if qErr := s.retry.Enqueue(ctx, g, ev.EventType, ev.EventID, rawBody, err); qErr != nil {
		s.log.Error().
			Str("gateway", string(g)).
			Str("event_id", ev.EventID).
			Err(qErr).
			Msg("failed to enqueue webhook for retry")
	}
	return nil, err
}
