// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v4/pgxpool"

	"resume-billing/internal/config"
	"resume-billing/internal/domain/ports/adapter"
	"resume-billing/internal/infra/adapters/notification"
	payAdapters "resume-billing/internal/infra/adapters/payment"
	tele "resume-billing/internal/infra/adapters/telegram"
	"resume-billing/internal/infra/api/apiv1"
	"resume-billing/internal/infra/db/migrations"
	pg "resume-billing/internal/infra/db/postgres"
	"resume-billing/internal/infra/effects"
	"resume-billing/internal/infra/logging"
	"resume-billing/internal/infra/metrics"
	red "resume-billing/internal/infra/redis"
	"resume-billing/internal/infra/sched"
	"resume-billing/internal/infra/tokens"
	"resume-billing/internal/infra/worker"
	"resume-billing/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = ""
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Config ----
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] payments are not verified against Razorpay")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if cfg.Database.AutoMigrate {
		if err := migrations.Up(ctx, pool, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrations")
		}
	}
	go reportPoolStats(ctx, pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	cycleLock := red.NewLocker(redisClient)

	// ---- Repositories ----
	planRepo := pg.NewPlanRepoCacheDecorator(pg.NewPostgresPlanRepo(pool), redisClient, cfg.Redis.TTL, logger)
	subRepo := pg.NewSubscriptionRepo(pool)
	payRepo := pg.NewPaymentRepo(pool)
	usageRepo := pg.NewFeatureUsageRepo(pool)
	billingRepo := pg.NewBillingDetailsRepo(pool)
	selectionRepo := pg.NewPlanSelectionRepo(pool)
	notificationRepo := pg.NewNotificationRepo(pool)
	auditRepo := pg.NewAuditLogRepo(pool)
	txManager := pg.NewTxManager(pool)
	locker := pg.NewAdvisoryLocker()

	// ---- Payment gateways ----
	var razorpay adapter.PaymentGateway
	if cfg.Runtime.Dev || cfg.Payment.Razorpay.KeyID == "" {
		logger.Warn().Msg("razorpay credentials missing or dev mode on, using the noop gateway")
		razorpay = payAdapters.NewNoopPaymentGateway()
	} else {
		rz, err := payAdapters.NewRazorpayGateway(cfg.Payment.Razorpay)
		if err != nil {
			logger.Fatal().Err(err).Msg("razorpay gateway")
		}
		razorpay = rz
	}
	gateways := adapter.NewGatewayRegistry(
		payAdapters.Instrument(razorpay),
		payAdapters.Instrument(payAdapters.NoneGateway{}),
	)

	// ---- Notifications and effects ----
	var admins notification.AdminChannel
	if cfg.Telegram.Token != "" {
		notifier, err := tele.NewAdminNotifier(cfg.Telegram, logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram admin notifier disabled")
		} else {
			admins = notifier
		}
	}
	sink := notification.NewSink(notificationRepo, admins, logger)

	effectPool := worker.NewPool(cfg.Effects.Workers, cfg.Effects.QueueSize, logger)
	effectPool.Start(ctx)
	dispatcher := effects.NewDispatcher(effectPool, sink, auditRepo, effects.Options{
		MaxRetries:   cfg.Effects.MaxRetries,
		RetryBackoff: cfg.Effects.RetryBackoff,
	}, logger)

	// ---- Use cases ----
	subUC := usecase.NewSubscriptionUseCase(usecase.Repositories{
		Subscriptions: subRepo,
		Plans:         planRepo,
		Payments:      payRepo,
		Usage:         usageRepo,
		Billing:       billingRepo,
		Selections:    selectionRepo,
		Locker:        locker,
	}, gateways, dispatcher, txManager, usecase.LifecycleOptions{
		GracePeriod:    cfg.Lifecycle.GracePeriod(),
		RenewalWindow:  cfg.Lifecycle.RenewalWindow,
		GatewayTimeout: cfg.Lifecycle.GatewayTimeout,
	}, logger)
	usageUC := usecase.NewUsageUseCase(subRepo, planRepo, usageRepo, locker,
		tokens.NewCounter(tokens.DefaultEncoding, logger), txManager, nil, logger)
	planUC := usecase.NewPlanUseCase(planRepo, billingRepo, logger)

	// ---- Workers ----
	cycleWorker := sched.NewCycleWorker(cfg.Scheduler.CycleInterval, cfg.Scheduler.LockTTL, subUC, cycleLock, logger)
	go func() { _ = cycleWorker.Run(ctx) }()
	resetWorker := sched.NewUsageResetWorker(cfg.Scheduler.UsageResetInterval, usageUC, logger)
	go func() { _ = resetWorker.Run(ctx) }()

	// ---- HTTP API ----
	api := apiv1.NewServer(apiv1.Deps{
		Subscriptions: subUC,
		Usage:         usageUC,
		Plans:         planUC,
		Cycle:         cycleWorker,
		Limiter:       rateLimiter,
		Auth:          apiv1.NewAuthManager(cfg.Server.JWTSecret, cfg.Server.AdminAPIKey, 12*time.Hour),
		RateLimit:     cfg.Server.RateLimit,
	}, logger)
	router := chi.NewRouter()
	apiv1.RegisterAPIV1(router, api)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Str("version", version).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	// Drain queued notifications and audit rows before the workers' context goes away.
	effectPool.Stop()
	cancel()
	logger.Info().Msg("bye")
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := pool.Stat()
			metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
		}
	}
}
