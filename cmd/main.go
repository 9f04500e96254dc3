package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/meridian-exchange/exchange_service/internal/adapters/chainprovider"
	"github.com/meridian-exchange/exchange_service/internal/adapters/fiatgateway"
	"github.com/meridian-exchange/exchange_service/internal/adapters/voucher"
	"github.com/meridian-exchange/exchange_service/internal/api/handlers"
	"github.com/meridian-exchange/exchange_service/internal/api/routes"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/keymanager"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/ledger"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/payments"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/transfer"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/webhook"
	"github.com/meridian-exchange/exchange_service/internal/infrastructure/cache"
	"github.com/meridian-exchange/exchange_service/internal/infrastructure/config"
	"github.com/meridian-exchange/exchange_service/internal/infrastructure/database"
	"github.com/meridian-exchange/exchange_service/internal/infrastructure/repositories"
	"github.com/meridian-exchange/exchange_service/internal/workers/provisioning"
	"github.com/meridian-exchange/exchange_service/internal/workers/queue"
	"github.com/meridian-exchange/exchange_service/pkg/graceful"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
	"github.com/meridian-exchange/exchange_service/pkg/metrics"
	"github.com/meridian-exchange/exchange_service/pkg/secrets"
	"github.com/meridian-exchange/exchange_service/pkg/tracing"
)

const (
	transferQueue     = "transfers"
	provisioningQueue = "provisioning"
	maintenanceQueue  = "maintenance"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	tracerShutdown, err := tracing.Init(context.Background(), tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
		Insecure:    cfg.Tracing.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	if err := db.Migrate("migrations"); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to redis", "error", err)
	}

	secretManager, err := secrets.NewLocalManager(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatal("Failed to create secret manager", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Repositories
	walletRepo := repositories.NewWalletRepository(db.DB)
	accountRepo := repositories.NewVirtualAccountRepository(db.DB)
	ledgerRepo := repositories.NewLedgerRepository(db.DB)
	webhookRepo := repositories.NewWebhookEventRepository(db.DB)
	masterWalletRepo := repositories.NewMasterWalletRepository(db.DB)
	paymentRepo := repositories.NewPaymentRepository(db.DB)
	queueRepo := repositories.NewQueueRepository(db.DB)

	// Adapters
	chainClient := chainprovider.NewClient(cfg.ChainProvider, log)
	gatewayClient := fiatgateway.NewClient(cfg.FiatGateway, log)
	voucherClient := voucher.NewClient(cfg.Voucher, log)

	// Domain services
	ledgerEngine := ledger.NewEngine(db, accountRepo, ledgerRepo, paymentRepo, m, log)
	keyManager := keymanager.NewService(walletRepo, chainClient, secretManager, log)
	paymentService := payments.NewService(paymentRepo, ledgerEngine, gatewayClient, voucherClient, log)
	transferService := transfer.NewService(
		walletRepo, masterWalletRepo, keyManager, chainClient, ledgerEngine, cfg.ChainProvider.GasBuffer, log)
	provisioningWorker := provisioning.NewWorker(keyManager, accountRepo, log)

	exclusion := webhook.NewExclusionSet(masterWalletRepo, redisClient, log)
	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := exclusion.Refresh(startupCtx); err != nil {
		log.Fatal("Failed to load master wallet exclusion set", "error", err)
	}
	cancel()

	pipeline := webhook.NewPipeline(
		webhookRepo, walletRepo, accountRepo, paymentRepo, ledgerEngine,
		gatewayClient, exclusion, cfg.ChainProvider.TokenContracts, m, log)

	// Work queues
	runner := queue.NewRunner(queueRepo, queue.NewLogNotifier(log), queue.Config{
		Concurrency:        cfg.Queue.Concurrency,
		RatePerSecond:      cfg.Queue.RatePerSecond,
		PollInterval:       time.Duration(cfg.Queue.PollIntervalMs) * time.Millisecond,
		DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
		DefaultBackoff:     time.Duration(cfg.Queue.DefaultBackoffMs) * time.Millisecond,
		DefaultTimeout:     time.Duration(cfg.Queue.DefaultTimeoutSec) * time.Second,
	}, m, log)
	runner.RegisterQueue(transferQueue, cfg.Queue.Concurrency)
	runner.RegisterQueue(provisioningQueue, cfg.Queue.Concurrency)
	runner.RegisterQueue(maintenanceQueue, 1)
	runner.RegisterHandler(transfer.JobSellTokenTransfer, transferService.HandleSellTransfer)
	runner.RegisterHandler(provisioning.JobProvisionDepositAddress, provisioningWorker.Handle)
	runner.RegisterHandler(payments.JobPaymentStatusPoll, paymentService.HandleStatusPoll)
	if err := runner.Start(); err != nil {
		log.Fatal("Failed to start queue runner", "error", err)
	}

	// Scheduled sweeps
	scheduler := cron.New()
	mustSchedule(scheduler, cfg.Polling.PaymentStatusSpec, log, "payment status sweep", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Singleton job: a sweep still waiting or running suppresses the
		// next tick instead of overlapping it.
		if _, err := runner.EnqueueUnique(ctx, maintenanceQueue, payments.JobPaymentStatusPoll, []byte(`{}`), queue.EnqueueOptions{
			Timeout: 2 * time.Minute,
		}); err != nil {
			log.Error("Failed to enqueue payment status sweep", "error", err)
		}
	})
	mustSchedule(scheduler, cfg.Polling.MasterWalletSpec, log, "master wallet refresh", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := exclusion.Refresh(ctx); err != nil {
			log.Error("Master wallet refresh failed", "error", err)
		}
	})
	mustSchedule(scheduler, cfg.Polling.WebhookReplaySpec, log, "webhook replay sweep", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := pipeline.ReplayUnprocessed(ctx, 5*time.Minute, 100); err != nil {
			log.Error("Webhook replay sweep failed", "error", err)
		}
	})
	mustSchedule(scheduler, cfg.Polling.RetentionSpec, log, "queue retention sweep", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := runner.Prune(ctx, queue.RetentionConfig{
			CompletedMaxAge: time.Duration(cfg.Queue.CompletedMaxAgeHours) * time.Hour,
			FailedMaxAge:    time.Duration(cfg.Queue.FailedMaxAgeHours) * time.Hour,
			MaxFinished:     cfg.Queue.MaxFinishedJobs,
		}); err != nil {
			log.Error("Queue retention sweep failed", "error", err)
		}
	})
	scheduler.Start()

	// HTTP surface
	router := routes.Setup(routes.Handlers{
		Webhooks:  handlers.NewWebhookHandlers(pipeline, log),
		Wallets:   handlers.NewWalletHandlers(keyManager, accountRepo, runner, provisioningQueue, log),
		Ledger:    handlers.NewLedgerHandlers(ledgerEngine, ledgerRepo, accountRepo, log),
		Payments:  handlers.NewPaymentHandlers(paymentService, log),
		Transfers: handlers.NewTransferHandlers(accountRepo, runner, transferQueue, log),
		Health:    handlers.NewHealthHandlers(db, redisClient, queueRepo, []string{transferQueue, provisioningQueue, maintenanceQueue}, log),
	}, registry, cfg.Environment, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", "error", err)
		}
	}()

	// Teardown order: stop intake first, drain async work against a live
	// database, close shared resources last.
	shutdown := graceful.NewCoordinator(30*time.Second, log)
	shutdown.Add("http", server.Shutdown)
	shutdown.Add("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return fmt.Errorf("cron scheduler stop timed out")
		}
	})
	shutdown.Add("webhook-pipeline", graceful.StopTimeout(pipeline.Shutdown))
	shutdown.Add("queue-runner", graceful.StopTimeout(runner.Shutdown))
	shutdown.Add("tracing", tracerShutdown)
	shutdown.Add("database", func(ctx context.Context) error {
		return db.DB.Close()
	})
	shutdown.Wait()
}

func mustSchedule(scheduler *cron.Cron, spec string, log *logger.Logger, name string, fn func()) {
	if _, err := scheduler.AddFunc(spec, fn); err != nil {
		log.Fatal("Invalid cron spec", "sweep", name, "spec", spec, "error", err)
	}
}
