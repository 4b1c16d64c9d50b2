package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixpay/settlement_service/internal/api/handlers"
	"github.com/pixpay/settlement_service/internal/api/middleware"
	"github.com/pixpay/settlement_service/internal/infrastructure/di"
	"github.com/pixpay/settlement_service/pkg/auth"
	"github.com/pixpay/settlement_service/pkg/tracing"
)

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	if container.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Global middleware, order matters
	router.Use(tracing.HTTPMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(container.Config.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(container.Config.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	healthHandler := handlers.NewHealthHandler(container.HealthChecker)
	withdrawalHandlers := handlers.NewWithdrawalHandlers(container.WithdrawalService, container.Logger)
	adminHandlers := handlers.NewAdminHandlers(
		container.ApprovalService,
		container.CouponService,
		container.SettlementScheduler,
		container.Reconciler,
		container.Logger,
	)
	webhookHandler := handlers.NewWebhookHandler(container.WebhookValidator, container.Reconciler, container.Logger)

	// Health checks (no auth required)
	router.GET("/health", healthHandler.Health)
	router.GET("/live", healthHandler.Live)
	router.GET("/version", handlers.VersionHandler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// Signed by the payout rail, not by a user token
	v1.POST("/webhooks/payouts", webhookHandler.PayoutNotification)

	authenticated := v1.Group("")
	authenticated.Use(middleware.Authentication(container.Verifier, container.Logger))

	withdrawals := authenticated.Group("/withdrawals")
	withdrawals.Use(middleware.RequireRole(container.Logger, auth.RoleUser, auth.RoleAdmin))
	{
		withdrawals.POST("/quote", withdrawalHandlers.Quote)
		withdrawals.POST("", withdrawalHandlers.Create)
		withdrawals.GET("", withdrawalHandlers.List)
		withdrawals.GET("/:id", withdrawalHandlers.Get)
		withdrawals.POST("/:id/cancel", withdrawalHandlers.Cancel)
	}

	admin := authenticated.Group("/admin")
	admin.Use(middleware.RequireRole(container.Logger, auth.RoleAdmin))
	{
		admin.GET("/withdrawals", adminHandlers.Queue)
		admin.POST("/withdrawals/:id/decision", adminHandlers.Decide)
		admin.POST("/settlement/run", adminHandlers.RunSettlement)
		admin.POST("/reconciliation/run", adminHandlers.RunReconciliation)
		admin.GET("/coupons", adminHandlers.ListCoupons)
		admin.POST("/coupons/:code/deactivate", adminHandlers.DeactivateCoupon)
	}

	return router
}
