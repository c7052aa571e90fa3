package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openshelf/library/internal/auth"
	"github.com/openshelf/library/internal/cache"
	"github.com/openshelf/library/internal/config"
	"github.com/openshelf/library/internal/covers"
	"github.com/openshelf/library/internal/db"
	"github.com/openshelf/library/internal/library"
	"github.com/openshelf/library/internal/logger"
	"github.com/openshelf/library/internal/outbox"
	"github.com/openshelf/library/internal/realtime"
	"github.com/openshelf/library/internal/repository/postgresql"
	"github.com/openshelf/library/internal/server"
	"github.com/openshelf/library/internal/storage"
)

const (
	auditWorkers   = 2
	auditBatchSize = 5
	auditTimeout   = 2 * time.Second

	outboxPollInterval = 2 * time.Second
	outboxBatchSize    = 10
	outboxMaxAttempts  = 5
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := logger.New()
	defer func() { _ = log.Sync() }()

	cfg := config.Load()

	store, cleanup, err := buildStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("storage init failed", zap.Error(err))
	}
	defer cleanup()

	bookCache := cache.NewBookCache(store.Books())
	if err := bookCache.LoadInitialData(ctx); err != nil {
		log.Warn("catalogue cache warm-up failed", zap.Error(err))
	}

	hub := realtime.NewHub(log)
	coordinator := library.New(store, hub, covers.NewOpenLibraryResolver(), bookCache, log)
	authManager := auth.NewManager(cfg.JWTSecret)

	auditManager := server.NewAuditManager(store.Outbox(), cfg.AuditTopic, auditWorkers, auditBatchSize, auditTimeout, log)
	auditManager.Start(ctx)

	var producer outbox.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = outbox.NewKafkaProducer(cfg.KafkaBrokers)
	} else {
		producer = outbox.NewConsoleProducer(log)
	}
	publisher := outbox.NewPublisher(store, producer, outbox.PublisherConfig{
		PollInterval: outboxPollInterval,
		BatchSize:    outboxBatchSize,
		MaxAttempts:  outboxMaxAttempts,
	}, log)

	srv := server.New(coordinator, authManager, hub, auditManager, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx, cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		auditManager.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
}

// buildStore wires the configured backend: Postgres repositories for
// production, the file-backed memory store for local development.
func buildStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, func(), error) {
	if cfg.StoreBackend == "memory" {
		log.Info("using in-memory store", zap.String("data_file", cfg.DataFile))
		store, err := storage.NewMemoryStore(cfg.DataFile)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}

	database, err := db.NewDb(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	log.Info("connected to postgres", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
	return postgresql.NewStore(database), database.Close, nil
}
