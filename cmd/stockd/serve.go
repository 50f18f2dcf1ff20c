package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/stockd/internal/agents"
	"github.com/haasonsaas/stockd/internal/alerts"
	"github.com/haasonsaas/stockd/internal/auth"
	"github.com/haasonsaas/stockd/internal/cache"
	"github.com/haasonsaas/stockd/internal/config"
	"github.com/haasonsaas/stockd/internal/gateway"
	"github.com/haasonsaas/stockd/internal/hub"
	"github.com/haasonsaas/stockd/internal/infra"
	"github.com/haasonsaas/stockd/internal/mcp"
	"github.com/haasonsaas/stockd/internal/observability"
	"github.com/haasonsaas/stockd/internal/scheduler"
	"github.com/haasonsaas/stockd/internal/stock"
	"github.com/haasonsaas/stockd/internal/storage"
	"github.com/haasonsaas/stockd/internal/ticker"
	"github.com/haasonsaas/stockd/internal/workflow"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the stockd server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (optional)")
	return cmd
}

// serve is the composition root: it builds every component, starts the
// long-running tasks, and tears them down in reverse order on SIGINT/SIGTERM.
func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	// Redis backs both the session store and the market-data cache.
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		return fmt.Errorf("redis ping: %w", err)
	}
	cancelPing()

	var stores storage.StoreSet
	if cfg.Database.URL != "" {
		stores, err = storage.NewPostgresStoresFromDSN(cfg.Database.URL, &storage.PostgresConfig{
			MaxOpenConns:    cfg.Database.MaxConnections,
			MaxIdleConns:    cfg.Database.MinConnections,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectTimeout:  10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		stores = storage.NewMemoryStores()
	}
	defer func() { _ = stores.Close() }()

	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTAlgorithm, cfg.Auth.AccessTTL(), cfg.Auth.RefreshTTL())
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	authSvc := auth.NewService(stores.Users, auth.NewSessionStore(redisClient), issuer, logger)

	breakers := infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{
		OnStateChange: func(name, from, to string) {
			metrics.BreakerTransitions.WithLabelValues(name, to).Inc()
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			logger.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	})

	tools := mcp.NewClient(&mcp.ServerConfig{
		ID:                "stock-data",
		URL:               cfg.Tools.StockDataURL,
		Timeout:           cfg.Tools.Timeout,
		ValidateArguments: cfg.Tools.ValidateArguments,
	}, logger)
	defer func() { _ = tools.Close() }()

	dataCache := cache.New(redisClient, logger)
	stocks := stock.NewService(tools, breakers, dataCache, logger)

	ws := hub.New(authSvc, logger)
	evaluator := alerts.NewEvaluator(stores.Alerts, stores.Notifications, ws, logger)

	registry := agents.NewRegistry()
	for _, agent := range []agents.Agent{
		agents.NewPriceAlertAgent(stores.Alerts, evaluator, stocks),
		agents.NewResearchAgent(stocks, 0),
		agents.NewRebalancingAgent(stores.Portfolios, stocks, 0),
	} {
		if err := registry.Register(agent); err != nil {
			return fmt.Errorf("register agent: %w", err)
		}
	}

	engine := workflow.NewEngine(registry, stores.Workflows, stores.Executions, logger, workflow.Options{
		Timeout:     cfg.Workflow.Timeout,
		CancelGrace: cfg.Workflow.CancelGrace,
	})

	sched := scheduler.New(stores.Workflows, engine, logger)
	sched.Start()

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := sched.Restore(restoreCtx); err != nil {
		logger.Error("restore schedules", "error", err)
	}
	cancelRestore()

	loop := ticker.New(stocks, ws, evaluator, logger, ticker.Options{
		Interval: cfg.Ticker.Interval,
	})
	loop.Start()

	server := gateway.NewServer(gateway.Deps{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Auth:      authSvc,
		Engine:    engine,
		Scheduler: sched,
		Hub:       ws,
		Stocks:    stocks,
		Stores:    stores,
		Breakers:  breakers,
	})
	if err := server.Start(); err != nil {
		return err
	}

	logger.Info("stockd started",
		"environment", cfg.Environment,
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("stop http server", "error", err)
	}
	if err := loop.Stop(shutdownCtx); err != nil {
		logger.Error("stop price loop", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("stop scheduler", "error", err)
	}
	ws.Shutdown(shutdownCtx)

	logger.Info("stockd stopped")
	return nil
}

func breakerStateValue(state string) float64 {
	switch state {
	case infra.CircuitClosed:
		return 0
	case infra.CircuitHalfOpen:
		return 1
	case infra.CircuitOpen:
		return 2
	default:
		return -1
	}
}
