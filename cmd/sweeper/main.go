package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payment-reconciler/config"
	"payment-reconciler/internal/adapter/gateway"
	pgStorage "payment-reconciler/internal/adapter/storage/postgres"
	"payment-reconciler/internal/service"
	"payment-reconciler/pkg/logger"
)

// The sweeper re-dispatches queued webhook deliveries on a fixed tick.
// It runs as its own process so API deploys and crashes never stall the
// retry schedule; the queue's processing claim keeps concurrent sweepers
// (or a mid-deploy overlap) off the same item.
func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("reconciler-sweeper", cfg.Log.Level, cfg.Log.Pretty)

	interval := cfg.Retry.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	log.Info().
		Dur("interval", interval).
		Int("batch_size", cfg.Retry.BatchSize).
		Msg("Starting Payment Reconciler sweeper")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Repositories and services. The sweeper needs the full dispatch
	// pipeline: a replayed delivery runs the same handlers a live one does.
	txRepo := pgStorage.NewTransactionRepo(pool)
	subRepo := pgStorage.NewSubscriptionRepo(pool)
	refundRepo := pgStorage.NewRefundRepo(pool)
	userRepo := pgStorage.NewUserRepo(pool)
	planRepo := pgStorage.NewPlanRepo(pool)
	queueRepo := pgStorage.NewWebhookQueueRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	settingRepo := pgStorage.NewSettingRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	auditSvc := service.NewAuditService(auditRepo, log)
	settingsSvc := service.NewSettingsService(settingRepo, cfg, auditSvc, log)
	notifier := service.NewLogNotifier(log)

	outbound := &http.Client{Timeout: 15 * time.Second}
	clientPool := gateway.NewClientPool(settingsSvc, outbound, log)
	registry := gateway.NewRegistry(
		gateway.NewStripeAdapter(settingsSvc, outbound, log),
		gateway.NewRazorpayAdapter(settingsSvc, outbound, log),
		gateway.NewPayPalAdapter(settingsSvc, clientPool, outbound, log),
		gateway.NewPaystackAdapter(settingsSvc, outbound, log),
		gateway.NewMercadoPagoAdapter(settingsSvc, outbound, log),
	)

	ledgerSvc := service.NewLedgerService(txRepo, userRepo, transactor, auditSvc, notifier, log)
	subscriptionSvc := service.NewSubscriptionService(subRepo, planRepo, txRepo, userRepo, registry, transactor, auditSvc, notifier, log)
	refundSvc := service.NewRefundService(refundRepo, txRepo, userRepo, transactor, auditSvc, notifier, log)
	dispatcher := service.NewDispatcher(registry, ledgerSvc, subscriptionSvc, refundSvc, subRepo, planRepo, auditSvc, log)
	retrySvc := service.NewRetryService(queueRepo, registry, dispatcher, auditSvc, cfg.Retry, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sweeper exiting")
			return
		case now := <-ticker.C:
			attempted, err := retrySvc.ProcessDue(ctx, now)
			if err != nil {
				log.Error().Err(err).Msg("sweep failed")
				continue
			}
			if attempted > 0 {
				log.Info().Int("attempted", attempted).Msg("sweep complete")
			}
		}
	}
}
