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
	httpHandler "payment-reconciler/internal/adapter/http/handler"
	pgStorage "payment-reconciler/internal/adapter/storage/postgres"
	redisStorage "payment-reconciler/internal/adapter/storage/redis"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/internal/service"
	"payment-reconciler/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("reconciler-api", cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Payment Reconciler API")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	txRepo := pgStorage.NewTransactionRepo(pool)
	subRepo := pgStorage.NewSubscriptionRepo(pool)
	refundRepo := pgStorage.NewRefundRepo(pool)
	userRepo := pgStorage.NewUserRepo(pool)
	planRepo := pgStorage.NewPlanRepo(pool)
	queueRepo := pgStorage.NewWebhookQueueRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	settingRepo := pgStorage.NewSettingRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize core services
	auditSvc := service.NewAuditService(auditRepo, log)
	settingsSvc := service.NewSettingsService(settingRepo, cfg, auditSvc, log)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	notifier := service.NewLogNotifier(log)

	// Gateway adapters share one bounded outbound client; a provider that
	// stalls must not pin a request goroutine forever.
	outbound := &http.Client{Timeout: 15 * time.Second}
	clientPool := gateway.NewClientPool(settingsSvc, outbound, log)
	registry := gateway.NewRegistry(
		gateway.NewStripeAdapter(settingsSvc, outbound, log),
		gateway.NewRazorpayAdapter(settingsSvc, outbound, log),
		gateway.NewPayPalAdapter(settingsSvc, clientPool, outbound, log),
		gateway.NewPaystackAdapter(settingsSvc, outbound, log),
		gateway.NewMercadoPagoAdapter(settingsSvc, outbound, log),
	)

	// Initialize business services
	ledgerSvc := service.NewLedgerService(txRepo, userRepo, transactor, auditSvc, notifier, log)
	subscriptionSvc := service.NewSubscriptionService(subRepo, planRepo, txRepo, userRepo, registry, transactor, auditSvc, notifier, log)
	refundSvc := service.NewRefundService(refundRepo, txRepo, userRepo, transactor, auditSvc, notifier, log)
	dispatcher := service.NewDispatcher(registry, ledgerSvc, subscriptionSvc, refundSvc, subRepo, planRepo, auditSvc, log)
	retrySvc := service.NewRetryService(queueRepo, registry, dispatcher, auditSvc, cfg.Retry, log)
	ingestSvc := service.NewWebhookService(registry, settingsSvc, dispatcher, retrySvc, auditSvc, log)
	checkoutSvc := service.NewCheckoutService(registry, settingsSvc, ledgerSvc, subscriptionSvc, planRepo, userRepo, auditSvc, log)

	// Initialize rate limit store
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Load OpenAPI spec for Swagger UI
	swaggerPath := cfg.Server.SwaggerPath
	if swaggerPath == "" {
		swaggerPath = "docs/openapi.yaml"
	}
	if specBytes, err := os.ReadFile(swaggerPath); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		IngestSvc:       ingestSvc,
		CheckoutSvc:     checkoutSvc,
		SubscriptionSvc: subscriptionSvc,
		LedgerSvc:       ledgerSvc,
		RefundSvc:       refundSvc,
		RetrySvc:        retrySvc,
		AuditSvc:        auditSvc,
		SettingsSvc:     settingsSvc,
		TokenSvc:        tokenSvc,
		RateLimitStore:  rateLimitStore,
		HealthCheckers:  []ports.HealthChecker{pgHealth, redisHealth},
		Logger:          log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
