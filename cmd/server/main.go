// @title certmint API
// @version 1.0
// @description zeroXmods 双证书铸造服务
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zeroxmods/certmint/config"
	"github.com/zeroxmods/certmint/internal/api/handler"
	"github.com/zeroxmods/certmint/internal/api/middleware"
	"github.com/zeroxmods/certmint/internal/api/router"
	"github.com/zeroxmods/certmint/internal/ledger"
	"github.com/zeroxmods/certmint/internal/lock"
	"github.com/zeroxmods/certmint/internal/payment"
	"github.com/zeroxmods/certmint/internal/pinning"
	"github.com/zeroxmods/certmint/internal/repository"
	"github.com/zeroxmods/certmint/internal/service"
	"github.com/zeroxmods/certmint/internal/ws"
	"github.com/zeroxmods/certmint/pkg/database"
	"github.com/zeroxmods/certmint/pkg/logger"
	"github.com/zeroxmods/certmint/pkg/messaging"
	"github.com/zeroxmods/certmint/pkg/monitor"
	"github.com/zeroxmods/certmint/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Server.Mode); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if enabled, err := monitor.Init(cfg.Sentry.DSN, cfg.Sentry.Environment, ""); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	} else if enabled {
		defer monitor.Flush(2 * time.Second)
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		Insecure:    cfg.Server.Mode != "release",
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ledgerClient, err := ledger.NewHTTPClient(ledger.Config{
		GatewayURL:         cfg.Ledger.GatewayURL,
		OperatorAccountID:  cfg.Ledger.OperatorAccountID,
		OperatorPrivateKey: cfg.Ledger.OperatorPrivateKey,
		Timeout:            cfg.Ledger.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("ledger client: %w", err)
	}
	pinner, err := pinning.NewPinataClient(pinning.Config{
		BaseURL:   cfg.Pinning.BaseURL,
		APIKey:    cfg.Pinning.APIKey,
		APISecret: cfg.Pinning.APISecret,
		Timeout:   cfg.Pinning.Timeout,
	})
	if err != nil {
		return fmt.Errorf("pinning client: %w", err)
	}
	gateway := payment.NewPaystack(payment.Config{
		BaseURL:       cfg.Paystack.BaseURL,
		SecretKey:     cfg.Paystack.SecretKey,
		WebhookSecret: cfg.Paystack.WebhookSecret,
		CallbackURL:   cfg.Paystack.CallbackURL,
		Timeout:       cfg.Paystack.Timeout,
	})

	collections, err := service.EnsureCollections(ctx, ledgerClient, service.Collections{
		AuthenticityTokenID: cfg.Ledger.AuthenticityTokenID,
		OwnershipTokenID:    cfg.Ledger.OwnershipTokenID,
	})
	if err != nil {
		return fmt.Errorf("ensure collections: %w", err)
	}

	store := repository.NewOrderStore(db)
	catalog := repository.NewCatalogRepository(db)
	jobs := repository.NewMintJobRepository(db)

	hub := ws.NewHub()
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	sinks := []service.Notifier{hub}
	if cfg.RabbitMQ.URL != "" {
		pub, err := messaging.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, service.BrokerNotifier(pub))
	}
	dispatcher := service.NewEventDispatcher(1024, sinks...)
	stopDispatcher := dispatcher.Start(2)

	certs := service.NewCertificateService(store, catalog, ledgerClient, rdb, cfg.Cache.CertificateTTL, cfg.Pinning.GatewayURL)
	minter := service.NewMintOrchestrator(service.OrchestratorDeps{
		Store:       store,
		Catalog:     catalog,
		Ledger:      ledgerClient,
		Pinner:      pinner,
		Locker:      lock.NewRedisLocker(rdb),
		Collections: collections,
		Policy: service.RetryPolicy{
			InitialInterval: cfg.Mint.InitialInterval,
			Multiplier:      cfg.Mint.Multiplier,
			MaxInterval:     cfg.Mint.MaxInterval,
			MaxAttempts:     cfg.Mint.MaxAttempts,
			CallTimeout:     cfg.Mint.CallTimeout,
		},
		LockTTL:  cfg.Mint.LockTTL,
		Notifier: dispatcher,
		Reporter: monitor.NewReporter(nil),
		Cache:    certs,
	})
	worker := service.NewMintWorker(jobs, store, minter, service.MintWorkerConfig{
		Workers:      cfg.Mint.Workers,
		PollInterval: cfg.Mint.PollInterval,
		ClaimLimit:   cfg.Mint.ClaimLimit,
		Lease:        cfg.Mint.JobLease,
		MaxAttempts:  cfg.Mint.JobMaxAttempts,
		RetryDelay:   cfg.Mint.JobRetryDelay,
	})
	stopWorker := worker.Start()
	go reportLatency(ctx, "mint job latency", worker.Metrics(), time.Minute)

	checkout := service.NewCheckoutService(store, catalog, gateway, worker)

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go sweepLimiter(ctx, limiter)

	h := handler.New(checkout, certs, minter, handler.Options{
		AllowTestCompletion: cfg.Paystack.AllowTestCompletion,
		Queue:               jobs,
		ReMintTimeout:       cfg.Mint.ReMintTimeout,
		HealthChecks: map[string]handler.HealthCheck{
			"database": sqlDB.PingContext,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})
	engine := router.Setup(h, ws.NewHandler(hub, certs), router.Config{
		ServiceName: cfg.Tracing.ServiceName,
		JWTSecret:   cfg.JWT.Secret,
		JWTIssuer:   cfg.JWT.Issuer,
		RateLimiter: limiter,
		Swagger:     cfg.Server.Mode != "release",
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// 先停 worker 再停事件分发，保证最后一批事件被投递
	if err := stopWorker(sctx); err != nil {
		logger.Warn("mint worker shutdown", zap.Error(err))
	}
	if err := stopDispatcher(sctx); err != nil {
		logger.Warn("event dispatcher shutdown", zap.Error(err))
	}
	stopHub()
	return nil
}

func sweepLimiter(ctx context.Context, l *middleware.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// reportLatency 周期性输出 p50/p99
func reportLatency(ctx context.Context, name string, ch <-chan time.Duration, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	var samples []time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-ch:
			samples = append(samples, d)
		case <-ticker.C:
			if len(samples) == 0 {
				continue
			}
			sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
			logger.Info(name,
				zap.Int("count", len(samples)),
				zap.Duration("p50", samples[len(samples)/2]),
				zap.Duration("p99", samples[len(samples)*99/100]),
			)
			samples = samples[:0]
		}
	}
}
