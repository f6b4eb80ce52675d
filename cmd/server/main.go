package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-matchmaker/internal/demoroom"
	"github.com/koopa0/system-design/14-matchmaker/internal/driver"
	"github.com/koopa0/system-design/14-matchmaker/internal/driver/migrations"
	"github.com/koopa0/system-design/14-matchmaker/internal/httpapi"
	"github.com/koopa0/system-design/14-matchmaker/internal/matchmaker"
	"github.com/koopa0/system-design/14-matchmaker/internal/presence"
)

func main() {
	var (
		port         = flag.Int("port", 2567, "server port")
		advertiseHost = flag.String("advertise-host", "127.0.0.1", "host advertised to the cluster for node discovery")
		processID    = flag.String("process-id", "", "unique process id; a random one is generated when empty")
		logLevel     = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		logFormat    = flag.String("log-format", "text", "log format (text, json)")

		presenceKind = flag.String("presence", "local", "presence backend (local, redis, nats)")
		redisAddr    = flag.String("redis-addr", "localhost:6379", "redis address, used when -presence=redis")
		natsURL      = flag.String("nats-url", nats.DefaultURL, "nats url, used when -presence=nats")

		driverKind  = flag.String("driver", "local", "room listing driver (local, postgres)")
		postgresDSN = flag.String("postgres-dsn", "", "postgres connection string, used when -driver=postgres")

		maxClients = flag.Int("max-clients", 4, "seat capacity of the demo room type")
	)
	flag.Parse()

	logger := setupLogger(*logLevel, *logFormat)

	if *processID == "" {
		*processID = uuid.NewString()
	}

	pres, err := buildPresence(*presenceKind, *redisAddr, *natsURL)
	if err != nil {
		logger.Error("failed to build presence backend", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := buildDriver(context.Background(), *driverKind, *postgresDSN, logger)
	if err != nil {
		logger.Error("failed to build room listing driver", "error", err)
		os.Exit(1)
	}

	mm := matchmaker.New(*processID, pres, store, logger)
	mm.DefineRoomType("chat", func() matchmaker.Room { return demoroom.New(*maxClients) }, nil)

	node := matchmaker.Node{ProcessID: *processID, Host: *advertiseHost, Port: *port}
	if err := mm.Setup(context.Background(), node); err != nil {
		logger.Error("matchmaker setup failed", "error", err)
		os.Exit(1)
	}

	handler := httpapi.NewHandler(mm, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("matchmaker server starting",
			"process_id", *processID,
			"port", *port,
			"presence", *presenceKind,
			"driver", *driverKind)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	if err := mm.GracefulShutdown(ctx); err != nil {
		logger.Error("matchmaker shutdown failed", "error", err)
	}
	if closeStore != nil {
		if err := closeStore(); err != nil {
			logger.Error("closing room listing driver failed", "error", err)
		}
	}
	if err := pres.Close(); err != nil {
		logger.Error("closing presence backend failed", "error", err)
	}

	logger.Info("server shut down")
}

func buildPresence(kind, redisAddr, natsURL string) (presence.Presence, error) {
	switch kind {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		return presence.NewRedis(client), nil
	case "nats":
		conn, err := nats.Connect(natsURL)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		return presence.NewNATS(conn, "matchmaker")
	default:
		return presence.NewLocal(), nil
	}
}

func buildDriver(ctx context.Context, kind, dsn string, logger *slog.Logger) (driver.Store, func() error, error) {
	if kind != "postgres" {
		return driver.NewLocal(), nil, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	migrator, err := migrations.New(dsn, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("build migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	if err := migrator.Close(); err != nil {
		logger.Error("closing migrator failed", "error", err)
	}

	return driver.NewPostgres(pool), func() error { pool.Close(); return nil }, nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
