package handler

import (
	"payment-reconciler/internal/adapter/http/middleware"
	redisStore "payment-reconciler/internal/adapter/storage/redis"
	"payment-reconciler/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	IngestSvc       ports.WebhookIngestService
	CheckoutSvc     ports.CheckoutService
	SubscriptionSvc ports.SubscriptionService
	LedgerSvc       ports.LedgerService
	RefundSvc       ports.RefundService
	RetrySvc        ports.RetryService
	AuditSvc        ports.AuditService
	SettingsSvc     ports.SettingsService
	TokenSvc        ports.TokenService
	RateLimitStore  *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers  []ports.HealthChecker
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware. The 1 MB body cap also covers webhooks; provider
	// payloads run well under it.
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))

	// Health check, deep: verifies PostgreSQL and Redis.
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// --- Webhook ingest (no auth; providers authenticate by signature) ---
	webhookHandler := NewWebhookHandler(deps.IngestSvc)
	r.POST("/api/:gateway/webhook", rl("webhooks"), webhookHandler.Handle)

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- JWT-authenticated routes (client) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	checkoutHandler := NewCheckoutHandler(deps.CheckoutSvc)
	accountHandler := NewAccountHandler(deps.SubscriptionSvc, deps.LedgerSvc)

	checkout := v1.Group("/checkout", jwtAuth)
	{
		checkout.POST("/order", rl("checkout"), checkoutHandler.CreateOrder)
		checkout.POST("/verify", rl("checkout"), checkoutHandler.VerifyPayment)
	}

	subscription := v1.Group("/subscription", jwtAuth)
	{
		subscription.GET("", rl("account"), accountHandler.GetSubscription)
		subscription.POST("/cancel", rl("account"), accountHandler.CancelSubscription)
	}

	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.GET("", rl("account"), accountHandler.ListTransactions)
	}

	// --- Admin routes (JWT + admin role) ---
	adminOnly := middleware.AdminOnly()
	adminHandler := NewAdminHandler(deps.RefundSvc, deps.RetrySvc, deps.AuditSvc, deps.SettingsSvc)

	refunds := v1.Group("/refunds", jwtAuth, adminOnly)
	{
		refunds.POST("", rl("admin_refunds"), adminHandler.CreateRefund)
	}

	admin := v1.Group("/admin", jwtAuth, adminOnly)
	{
		admin.GET("/queue", rl("admin"), adminHandler.ListQueue)
		admin.POST("/queue/:id/requeue", rl("admin"), adminHandler.RequeueItem)
		admin.GET("/audit", rl("admin"), adminHandler.ListAudit)
		admin.GET("/settings/:key", rl("admin"), adminHandler.GetSetting)
		admin.PUT("/settings/:key", rl("admin"), adminHandler.PutSetting)
	}

	return r
}
