package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/agenthands/canon/internal/config"
	"github.com/agenthands/canon/internal/core"
	"github.com/agenthands/canon/internal/core/assembler"
	"github.com/agenthands/canon/internal/core/community"
	"github.com/agenthands/canon/internal/core/gencache"
	"github.com/agenthands/canon/internal/core/generation"
	"github.com/agenthands/canon/internal/core/ledger"
	"github.com/agenthands/canon/internal/driver"
	"github.com/agenthands/canon/internal/graph"
	"github.com/agenthands/canon/internal/llm"
	"github.com/agenthands/canon/internal/logging"
	"github.com/agenthands/canon/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal("Failed to load configuration", "path", cfgPath, "err", err)
	}

	logger := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", "err", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to Memgraph: %w", err)
	}
	defer d.Close(context.Background())
	if err := d.BuildIndices(ctx); err != nil {
		return fmt.Errorf("failed to build indices: %w", err)
	}

	store, closeStore, err := ledgerStore(ctx, cfg, d, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	cache, closeCache, err := generationCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if c, ok := client.(interface{ Close() error }); ok {
		defer c.Close()
	}
	client = llm.NewLimited(client, cfg.LLM.RequestsPerSecond, cfg.LLM.MaxConcurrent)
	logger.Info("generation backend ready", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	detector, err := community.NewDetector(cfg.Context.Detector)
	if err != nil {
		return err
	}

	svc := core.NewService(
		graph.NewAccessor(d),
		ledger.New(store, ledger.TierTable(cfg.Credits.Tiers), logger),
		generation.NewLLMBackend(client, cfg.Generation.Prompt, logger),
		cache,
		core.Options{
			Context: assembler.Options{
				MaxDepth:        cfg.Context.MaxDepth,
				MaxSuggestions:  cfg.Context.MaxSuggestions,
				MaxSiblings:     cfg.Context.MaxSiblings,
				CommunitySample: cfg.Context.CommunitySample,
				Detector:        detector,
			},
			MaxQuantity: cfg.Generation.MaxQuantity,
			CacheTTL:    cfg.Cache.TTLDuration(),
			DefaultTier: cfg.Ledger.DefaultTier,
		},
		logger,
	)

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	srv := server.New(svc, server.Options{
		AdminToken: cfg.Server.AdminToken,
		RateLimit:  cfg.Server.RateLimit,
		RateBurst:  cfg.Server.RateBurst,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func ledgerStore(ctx context.Context, cfg *config.Config, d *driver.MemgraphDriver, logger *log.Logger) (ledger.Store, func(), error) {
	switch cfg.Ledger.Backend {
	case "memory":
		logger.Warn("ledger is in memory; balances are lost on restart")
		return ledger.NewMemoryStore(), func() {}, nil
	case "postgres":
		if cfg.Postgres.Migrate {
			if err := driver.Migrate(cfg.Postgres.DSN, logger); err != nil {
				return nil, nil, err
			}
		}
		pool, err := driver.NewPostgresPool(ctx, cfg.Postgres.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return ledger.NewPostgresStore(pool), pool.Close, nil
	default:
		return ledger.NewGraphStore(d), func() {}, nil
	}
}

func generationCache(ctx context.Context, cfg *config.Config) (gencache.Cache, func(), error) {
	if cfg.Cache.Backend != "redis" {
		return gencache.NewMemoryCache(cfg.Cache.MaxEntries), func() {}, nil
	}
	client, err := gencache.Dial(ctx, cfg.Cache.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return gencache.NewRedisCache(client), func() { _ = client.Close() }, nil
}
