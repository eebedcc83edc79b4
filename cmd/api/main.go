package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/greanly/cmd/mainconfig"
	"github.com/wolfman30/greanly/internal/api/router"
	"github.com/wolfman30/greanly/internal/app/bootstrap"
	"github.com/wolfman30/greanly/internal/audit"
	"github.com/wolfman30/greanly/internal/chat"
	appconfig "github.com/wolfman30/greanly/internal/config"
	"github.com/wolfman30/greanly/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/greanly/internal/http/middleware"
	"github.com/wolfman30/greanly/internal/observability/metrics"
	"github.com/wolfman30/greanly/pkg/logging"
)

func main() {
	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting greanly chat API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, chatMetrics := setupMetrics()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	pool := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	auditDB := bootstrap.BuildAuditDB(ctx, cfg.DatabaseURL, logger)
	if auditDB != nil {
		defer auditDB.Close()
	}

	model, cleanup, err := bootstrap.BuildModel(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build llm", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	index, ingester, err := bootstrap.BuildIndex(ctx, cfg, awsCfg, redisClient, pool, logger)
	if err != nil {
		logger.Error("failed to build knowledge index", "error", err)
		os.Exit(1)
	}
	searchTool, err := bootstrap.BuildWebSearchTool(ctx, cfg, redisClient, logger, chatMetrics)
	if err != nil {
		logger.Warn("web search disabled", "error", err)
	}

	auditStore, recorder := setupAudit(auditDB)
	chatHandler, err := bootstrap.BuildChat(cfg, bootstrap.ChatDeps{
		Model:     model,
		Index:     index,
		WebSearch: searchTool,
		Recorder:  recorder,
		Metrics:   chatMetrics,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build chat pipeline", "error", err)
		os.Exit(1)
	}

	rateLimiter := setupRateLimiter(ctx, cfg)
	routerCfg := &router.Config{
		Logger:             logger,
		ChatHandler:        chatHandler,
		MetricsHandler:     metricsHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
	}
	if cfg.AdminJWTSecret != "" {
		if ingester != nil {
			routerCfg.KnowledgeHandler = handlers.NewKnowledgeHandler(ingester, cfg.KnowledgeNamespace, logger)
		}
		if auditStore != nil {
			routerCfg.AuditHandler = handlers.NewAuditHandler(auditStore, logger)
		}
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set; admin routes disabled")
	}

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router.New(routerCfg),
		ReadTimeout: 15 * time.Second,
		// Streams may run up to the request timeout.
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.ChatMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	chatMetrics := metrics.NewChatMetrics(registry)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), chatMetrics
}

// setupAudit returns a nil recorder interface when there is no database.
func setupAudit(db *sql.DB) (*audit.Store, chat.Recorder) {
	if db == nil {
		return nil, nil
	}
	store := audit.NewStore(db)
	return store, store
}

// setupRateLimiter returns nil when limiting is disabled. Idle client
// limiters are swept once a minute until ctx ends.
func setupRateLimiter(ctx context.Context, cfg *appconfig.Config) *httpmiddleware.RateLimiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	rl := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Sweep()
			}
		}
	}()
	return rl
}
