package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogNotifier implements ports.Notifier by logging. The hooks fire at the
// right points already; a deployment with real delivery (email, push)
// swaps this implementation in the wiring.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) PaymentConfirmed(ctx context.Context, userID uuid.UUID, transactionID uuid.UUID) {
	n.log.Info().
		Str("user_id", userID.String()).
		Str("transaction_id", transactionID.String()).
		Msg("notify: payment confirmed")
}

func (n *LogNotifier) SubscriptionPastDue(ctx context.Context, userID uuid.UUID) {
	n.log.Info().
		Str("user_id", userID.String()).
		Msg("notify: subscription past due")
}

func (n *LogNotifier) AccountDeactivated(ctx context.Context, userID uuid.UUID) {
	n.log.Info().
		Str("user_id", userID.String()).
		Msg("notify: account deactivated")
}
