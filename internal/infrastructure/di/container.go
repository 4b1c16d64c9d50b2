package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	domainrepos "github.com/pixpay/settlement_service/internal/domain/repositories"
	"github.com/pixpay/settlement_service/internal/domain/services/approval"
	"github.com/pixpay/settlement_service/internal/domain/services/coupon"
	"github.com/pixpay/settlement_service/internal/domain/services/fees"
	"github.com/pixpay/settlement_service/internal/domain/services/settlement"
	"github.com/pixpay/settlement_service/internal/domain/services/withdrawal"
	"github.com/pixpay/settlement_service/internal/infrastructure/adapters"
	"github.com/pixpay/settlement_service/internal/infrastructure/cache"
	"github.com/pixpay/settlement_service/internal/infrastructure/config"
	"github.com/pixpay/settlement_service/internal/infrastructure/database"
	"github.com/pixpay/settlement_service/internal/infrastructure/payout"
	"github.com/pixpay/settlement_service/internal/infrastructure/repositories"
	"github.com/pixpay/settlement_service/internal/infrastructure/repositories/memory"
	"github.com/pixpay/settlement_service/internal/workers/reconciliation"
	settlementbatch "github.com/pixpay/settlement_service/internal/workers/settlement_batch"
	"github.com/pixpay/settlement_service/pkg/auth"
	"github.com/pixpay/settlement_service/pkg/circuitbreaker"
	"github.com/pixpay/settlement_service/pkg/health"
	"github.com/pixpay/settlement_service/pkg/jobqueue"
	"github.com/pixpay/settlement_service/pkg/logger"
	"github.com/pixpay/settlement_service/pkg/retry"
	"github.com/pixpay/settlement_service/pkg/webhook"
)

const healthCheckTimeout = 5 * time.Second

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	DB     *sqlx.DB // nil with the memory driver
	Redis  *redis.Client
	Logger *logger.Logger
	ZapLog *zap.Logger

	// Repositories
	WithdrawalRepo domainrepos.WithdrawalRepository
	CouponRepo     domainrepos.CouponRepository

	// External Services
	PayoutClient *payout.Client
	AuditSink    *adapters.AuditSink
	Deduper      *cache.NotificationDeduper

	// Domain Services
	WithdrawalService *withdrawal.Service
	ApprovalService   *approval.Service
	CouponService     *coupon.Service

	// Workers
	SettlementScheduler *settlementbatch.Scheduler
	Reconciler          *reconciliation.Reconciler
	JobScheduler        *jobqueue.JobScheduler

	// HTTP concerns
	Verifier         *auth.Verifier
	WebhookValidator *webhook.SignatureValidator
	HealthChecker    *health.HealthChecker
}

// NewContainer wires every dependency from configuration. Connections that
// fail here are fatal; call Close to release whatever was opened.
func NewContainer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config:        cfg,
		Logger:        log,
		ZapLog:        log.Zap(),
		HealthChecker: health.NewHealthChecker(healthCheckTimeout),
	}

	if err := c.initializeStore(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initializeRedis(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initializeDomainServices(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize domain services: %w", err)
	}
	if err := c.initializeWorkers(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize workers: %w", err)
	}

	c.Verifier = auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	c.WebhookValidator = webhook.NewSignatureValidator(cfg.Webhook.Secret, cfg.Webhook.MaxAge)
	return c, nil
}

func (c *Container) initializeStore(ctx context.Context) error {
	dbCfg := c.Config.Database
	if dbCfg.Driver == "memory" {
		store := memory.NewStore()
		c.WithdrawalRepo = store
		c.CouponRepo = store.Coupons()
		c.ZapLog.Warn("Using in-memory store, data is lost on restart")
		return nil
	}

	db, err := database.Connect(ctx, database.Config{
		URL:             dbCfg.URL,
		MaxOpenConns:    dbCfg.MaxOpenConns,
		MaxIdleConns:    dbCfg.MaxIdleConns,
		ConnMaxLifetime: dbCfg.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = db

	if dbCfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
		c.ZapLog.Info("Database migrations applied")
	}

	c.WithdrawalRepo = repositories.NewWithdrawalRepository(db, c.ZapLog)
	c.CouponRepo = repositories.NewCouponRepository(db, c.ZapLog)
	c.HealthChecker.Register(health.NewDatabaseChecker(db.DB, healthCheckTimeout))
	return nil
}

func (c *Container) initializeRedis(ctx context.Context) error {
	redisCfg := c.Config.Redis
	if redisCfg.URL == "" {
		c.ZapLog.Info("Redis not configured, webhook dedupe relies on state transitions only")
		return nil
	}

	client, err := cache.Connect(ctx, cache.Config{
		URL:      redisCfg.URL,
		PoolSize: redisCfg.PoolSize,
		DedupTTL: redisCfg.DedupTTL,
	})
	if err != nil {
		return err
	}
	c.Redis = client
	c.Deduper = cache.NewNotificationDeduper(client, redisCfg.DedupTTL, c.ZapLog)
	c.HealthChecker.Register(health.NewRedisChecker(client, healthCheckTimeout))
	return nil
}

// FeeSchedules converts configured fee rules into calculator schedules
func FeeSchedules(cfg map[string]config.FeeConfig) (map[entities.WithdrawalMethod]fees.Schedule, error) {
	if len(cfg) == 0 {
		return fees.DefaultSchedules(), nil
	}
	schedules := make(map[entities.WithdrawalMethod]fees.Schedule, len(cfg))
	for name, fc := range cfg {
		// viper lowercases map keys
		method := entities.WithdrawalMethod(strings.ToUpper(name))
		if !method.IsValid() {
			return nil, fmt.Errorf("fees configured for unknown method %q", name)
		}
		rate, err := decimal.NewFromString(fc.Rate)
		if err != nil {
			return nil, fmt.Errorf("invalid fee rate for %s: %w", name, err)
		}
		schedules[method] = fees.Schedule{Rate: rate, MinFee: fc.MinFee, MaxFee: fc.MaxFee}
	}
	return schedules, nil
}

// SettlementPolicy picks the fixed delay when configured, else the
// business-day calendar
func SettlementPolicy(cfg config.SettlementConfig) (settlement.Policy, error) {
	if cfg.FixedDelay > 0 {
		return settlement.FixedDelayPolicy{Delay: cfg.FixedDelay}, nil
	}
	return settlement.NewBusinessDayPolicy(settlement.CalendarConfig{
		Timezone:       cfg.Timezone,
		CutoffHour:     cfg.CutoffHour,
		OffsetDays:     cfg.OffsetDays,
		SettlementHour: cfg.SettlementHour,
		Holidays:       cfg.Holidays,
	})
}

func (c *Container) initializeDomainServices() error {
	schedules, err := FeeSchedules(c.Config.Fees)
	if err != nil {
		return err
	}
	calculator, err := fees.NewCalculator(schedules)
	if err != nil {
		return err
	}
	policy, err := SettlementPolicy(c.Config.Settlement)
	if err != nil {
		return err
	}

	c.AuditSink = adapters.NewAuditSink(c.Config.Audit.BufferSize, c.ZapLog)

	c.CouponService = coupon.NewService(c.CouponRepo, coupon.NewValidator(nil), c.Logger)
	c.WithdrawalService = withdrawal.NewService(
		c.WithdrawalRepo,
		c.CouponService,
		calculator,
		c.AuditSink,
		c.Logger,
	)
	c.ApprovalService = approval.NewService(
		c.WithdrawalRepo,
		policy,
		c.AuditSink,
		approval.Config{RequireRejectReason: c.Config.Approval.RequireRejectReason},
		c.Logger,
	)
	return nil
}

func (c *Container) initializeWorkers() error {
	pc := c.Config.Payout
	breaker := circuitbreaker.DefaultConfig()
	if pc.BreakerTimeout > 0 {
		breaker.Timeout = pc.BreakerTimeout
	}
	if pc.BreakerMinCalls > 0 {
		breaker.MinRequests = pc.BreakerMinCalls
	}
	if pc.BreakerFailRatio > 0 {
		breaker.FailureRatio = pc.BreakerFailRatio
	}
	retryCfg := retry.DefaultConfig()
	if pc.MaxRetries > 0 {
		retryCfg.MaxAttempts = pc.MaxRetries
	}

	c.PayoutClient = payout.NewClient(payout.Config{
		BaseURL:        pc.BaseURL,
		APIKey:         pc.APIKey,
		Timeout:        pc.Timeout,
		RateLimitRPS:   pc.RateLimitRPS,
		RateLimitBurst: pc.RateLimitBurst,
		Retry:          retryCfg,
		Breaker:        breaker,
	}, c.ZapLog)
	c.HealthChecker.Register(health.NewBreakerChecker("payout_rail", c.PayoutClient.Breaker()))

	sc := c.Config.Settlement
	c.SettlementScheduler = settlementbatch.NewScheduler(
		c.WithdrawalRepo,
		c.PayoutClient,
		c.AuditSink,
		settlementbatch.SchedulerConfig{
			BatchSize:       sc.BatchSize,
			MaxConcurrency:  sc.MaxConcurrency,
			SubmitTimeout:   sc.SubmitTimeout,
			ShutdownTimeout: sc.ShutdownTimeout,
		},
		c.ZapLog,
	)

	rc := c.Config.Reconciliation
	c.Reconciler = reconciliation.NewReconciler(
		c.WithdrawalRepo,
		c.PayoutClient,
		c.AuditSink,
		reconciliation.Config{
			PollInterval:   rc.PollInterval,
			BatchSize:      rc.BatchSize,
			MaxConcurrency: rc.MaxConcurrency,
			Lookback:       rc.Lookback,
			BaseBackoff:    rc.BaseBackoff,
			MaxBackoff:     rc.MaxBackoff,
			ResubmitAfter:  rc.ResubmitAfter,
			SubmitTimeout:  sc.SubmitTimeout,
		},
		c.ZapLog,
	)
	if c.Deduper != nil {
		c.Reconciler.WithDeduper(c.Deduper)
	}

	c.JobScheduler = jobqueue.NewJobScheduler(c.ZapLog)
	if err := c.JobScheduler.AddJob(c.SettlementScheduler.Job(sc.BatchCron)); err != nil {
		return fmt.Errorf("failed to schedule settlement batch: %w", err)
	}
	return nil
}

// Close releases connections and flushes the audit sink. Workers must be
// stopped first.
func (c *Container) Close() {
	if c.AuditSink != nil {
		drain := c.Config.Audit.DrainTimeout
		if drain <= 0 {
			drain = 5 * time.Second
		}
		if !c.AuditSink.Close(drain) {
			c.ZapLog.Warn("Audit sink did not drain before timeout")
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.ZapLog.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.ZapLog.Warn("Failed to close database", zap.Error(err))
		}
	}
}

