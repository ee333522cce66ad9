package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buddypark.app/relay/common/id"
	"buddypark.app/relay/common/llm"
	"buddypark.app/relay/common/logger"
	"buddypark.app/relay/common/otel"
	"buddypark.app/relay/core/config"
	"buddypark.app/relay/core/db"
	"buddypark.app/relay/internal/http/middleware"
	httprouter "buddypark.app/relay/internal/http/router"
	"buddypark.app/relay/internal/push"
	"buddypark.app/relay/internal/service"
	"buddypark.app/relay/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "relay starting",
		"env", cfg.Env,
		"service", cfg.OTel.ServiceName,
		"snapshot_backend", cfg.Snapshot.Backend,
		"push_mode", cfg.Push.Mode)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	var backends store.Backends

	if cfg.Snapshot.Backend == config.SnapshotBackendRedis || cfg.Push.Mode == config.PushModeOutbox {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}

		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		backends.Redis = redisClient
		slog.InfoContext(ctx, "redis connected")
	}

	if cfg.Snapshot.Backend == config.SnapshotBackendPostgres {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()

		err = database.WithTx(ctx, func(tx pgx.Tx) error {
			return store.EnsureSnapshotSchema(ctx, tx)
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create snapshot schema", "error", err)
			os.Exit(1)
		}
		backends.Postgres = database.Pool()
		slog.InfoContext(ctx, "database connected")
	}

	snapshots, err := store.NewSnapshotStore(cfg.Snapshot, backends)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create snapshot store", "error", err)
		os.Exit(1)
	}

	completer, err := llm.NewCompleter(llm.Config{
		Provider:    cfg.CompletionLLM.Provider,
		APIKey:      cfg.CompletionLLM.APIKey,
		BaseURL:     cfg.CompletionLLM.BaseURL,
		Model:       cfg.CompletionLLM.Model,
		MaxTokens:   cfg.CompletionLLM.MaxTokens,
		Temperature: llm.Temp(cfg.CompletionLLM.Temperature),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create completion client", "error", err)
		os.Exit(1)
	}

	sender, err := push.NewSender(cfg.Push, backends.Redis)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create push sender", "error", err)
		os.Exit(1)
	}

	services := service.NewServices(snapshots, completer, sender, cfg)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A turn answers only after the whole reply streamed.
		WriteTimeout: cfg.Relay.TurnTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Relay.TurnTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services.Turns(), httprouter.RouterConfig{
		APIKey: cfg.APIKey,
	})

	return router
}

const banner = `
██████╗ ██╗   ██╗██████╗ ██████╗ ██╗   ██╗    ██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔══██╗██║   ██║██╔══██╗██╔══██╗╚██╗ ██╔╝    ██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██████╔╝██║   ██║██║  ██║██║  ██║ ╚████╔╝     ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██╔══██╗██║   ██║██║  ██║██║  ██║  ╚██╔╝      ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
██████╔╝╚██████╔╝██████╔╝██████╔╝   ██║       ██║  ██║███████╗███████╗██║  ██║   ██║
╚═════╝  ╚═════╝ ╚═════╝ ╚═════╝    ╚═╝       ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`
