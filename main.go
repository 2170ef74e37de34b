package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"

	"github.com/Mahd-Mehn/MM-zypherfunk/config"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/adapters/binanceclient"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/adapters/envcreds"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/adapters/logger"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/adapters/postgres"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/adapters/redisstore"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/adapters/sqlite"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/app"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/bus"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/copyengine"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/monitor"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/orchestrator"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/pnl"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/risk"
)

// repositories is satisfied by both the SQLite and PostgreSQL adapters.
type repositories interface {
	Followers() ports.FollowerRepository
	Configs() ports.CopyConfigRepository
	Sessions() ports.SessionRepository
	Executions() ports.ExecutionRepository
	Close() error
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (PostgreSQL when configured, SQLite otherwise)
	var repo repositories
	if cfg.DatabaseURL != "" {
		repo, err = postgres.NewRepository(ctx, postgres.Config{
			DatabaseURL: cfg.DatabaseURL,
			Logger:      appLogger,
		})
	} else {
		repo, err = sqlite.NewRepository(sqlite.Config{
			DBPath: cfg.DBPath,
			Logger: appLogger,
		})
	}
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Orchestrator and venue adapters
	orch, err := orchestrator.New(appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize orchestrator")
		log.Fatalf("FATAL: Failed to initialize orchestrator: %v", err)
	}
	defer orch.Close()

	// The factory builds per-session and per-follower adapter instances.
	orch.RegisterFactory("binance", binanceclient.Factory(cfg.IsTestnet))

	// Service-owned adapter for routing (fallback, best price, balances).
	if cfg.BinanceAPIKey != "" && cfg.BinanceAPISecret != "" {
		binanceAdapter, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.BinanceAPIKey,
			SecretKey:  cfg.BinanceAPISecret,
			UseTestnet: cfg.IsTestnet,
			Logger:     appLogger.Named("binance"),
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to build Binance adapter")
			log.Fatalf("FATAL: Failed to build Binance adapter: %v", err)
		}
		if err := orch.AddVenue(ctx, binanceAdapter); err != nil {
			appLogger.Error(ctx, err, "Binance venue failed to initialize; routing unavailable", map[string]interface{}{"venue": "binance"})
		}
	} else {
		appLogger.Warn(ctx, "No service Binance keys configured; routing endpoints disabled")
	}

	// 5. Core components
	eventBus := bus.New(cfg.EventBusBuffer)
	defer eventBus.Close()

	creds := envcreds.New()
	riskMgr := risk.NewManager()
	calc := pnl.NewCalculator()

	mon, err := monitor.New(monitor.Config{
		Logger:        appLogger.Named("monitor"),
		Bus:           eventBus,
		Sessions:      repo.Sessions(),
		Credentials:   creds,
		Adapters:      orch,
		PollInterval:  cfg.PollInterval,
		DedupTTL:      cfg.DedupTTL,
		OrderLookback: cfg.OrderLookback,
		OrderLimit:    cfg.OrderLimit,
		CallTimeout:   cfg.CallTimeout,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize monitor")
		log.Fatalf("FATAL: Failed to initialize monitor: %v", err)
	}

	engine, err := copyengine.New(copyengine.Config{
		Logger:          appLogger.Named("copyengine"),
		Bus:             eventBus,
		Followers:       repo.Followers(),
		Configs:         repo.Configs(),
		Executions:      repo.Executions(),
		Credentials:     creds,
		Dispatcher:      orch,
		Risk:            riskMgr,
		Calculator:      calc,
		DispatchTimeout: cfg.DispatchTimeout,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize copy engine")
		log.Fatalf("FATAL: Failed to initialize copy engine: %v", err)
	}

	// 6. Application Service
	service, err := app.NewService(app.Config{
		Logger:     appLogger,
		Followers:  repo.Followers(),
		Configs:    repo.Configs(),
		Executions: repo.Executions(),
		Monitor:    mon,
		Engine:     engine,
		Calculator: calc,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize service")
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}

	// 7. Metrics snapshots (optional)
	if cfg.RedisAddr != "" {
		metricsStore, err := redisstore.NewMetricsStore(ctx, cfg.RedisAddr, cfg.RedisPassword, appLogger.Named("metrics"))
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize metrics store")
			log.Fatalf("FATAL: Failed to initialize metrics store: %v", err)
		}
		defer metricsStore.Close()
		go metricsStore.Run(ctx, cfg.MetricsInterval, service.Metrics)
	}

	// 8. Run until a shutdown signal arrives
	if err := service.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start service")
		log.Fatalf("FATAL: Failed to start service: %v", err)
	}

	<-ctx.Done()
	appLogger.Info(context.Background(), "Shutdown signal received")
	service.Stop()
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
