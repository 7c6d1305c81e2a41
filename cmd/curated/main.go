package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/bookmarks"
	"github.com/curateapp/curate/internal/common"
	"github.com/curateapp/curate/internal/documents"
	"github.com/curateapp/curate/internal/extract"
	"github.com/curateapp/curate/internal/ingest"
	"github.com/curateapp/curate/internal/persist"
	"github.com/curateapp/curate/internal/pipeline"
	"github.com/curateapp/curate/internal/queue"
	"github.com/curateapp/curate/internal/repository"
	"github.com/curateapp/curate/internal/storage"
	"github.com/curateapp/curate/internal/tagging"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close(logger)

	if err := db.HealthCheck(ctx, 5*time.Second); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open blob store", "error", err)
		os.Exit(1)
	}

	assetsRepo := repository.NewAssetRepository(db, logger)
	jobsRepo := repository.NewProcessingJobRepository(db, logger)
	tagsRepo := repository.NewTagRepository(db, logger)

	var tagger *tagging.Tagger
	if cfg.Tagging.Enabled() {
		client := tagging.NewOpenAIClient(tagging.OpenAIConfig{
			BaseURL: cfg.Tagging.BaseURL,
			APIKey:  cfg.Tagging.APIKey,
			Model:   cfg.Tagging.Model,
		}, logger)
		tagger = tagging.NewTagger(client, tagging.Config{
			Temperature: cfg.Tagging.Temperature,
			MaxTokens:   cfg.Tagging.MaxTokens,
			Timeout:     cfg.Tagging.Timeout,
		}, logger)
	} else {
		logger.Info("AI tagging disabled, no API key configured")
	}

	processor := pipeline.NewProcessor(pipeline.Deps{
		Assets:    assetsRepo,
		Jobs:      jobsRepo,
		Tags:      tagsRepo,
		Store:     store,
		Fetcher:   extract.NewPageFetcher(nil),
		Engine:    extract.NewEngine(extract.NewFaviconFetcher(nil, logger), logger),
		Persister: persist.NewPersister(store, logger),
		Tagger:    tagger,
		RenderCfg: cfg.Render,
	}, logger)

	registry := queue.NewRegistry()
	queueOpts := []queue.Option{
		queue.WithWorkers(cfg.Queue.Workers),
		queue.WithQueueSize(cfg.Queue.Size),
		queue.WithJobTimeout(cfg.Queue.JobTimeout),
	}
	registry.Register(constants.QueueBookmarks, queue.New(constants.QueueBookmarks,
		func(ctx context.Context, job queue.Job) error {
			return processor.ProcessBookmark(ctx, job.Payload)
		}, logger, queueOpts...))
	registry.Register(constants.QueueDocuments, queue.New(constants.QueueDocuments,
		func(ctx context.Context, job queue.Job) error {
			return processor.ProcessDocument(ctx, job.Payload)
		}, logger, queueOpts...))

	bookmarkSvc := bookmarks.NewService(assetsRepo, jobsRepo, tagsRepo, store, registry, logger)
	documentSvc := documents.NewService(assetsRepo, jobsRepo, tagsRepo, store, registry, logger)

	if cfg.Ingest.Enabled() {
		ingestUser, err := uuid.Parse(cfg.Ingest.UserID)
		if err != nil {
			logger.Error("invalid INGEST_USER_ID", "error", err)
			os.Exit(1)
		}
		paths, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Root:        cfg.Ingest.Dir,
			InitialScan: true,
			Debounce:    cfg.Ingest.Debounce,
		}, logger)
		if err != nil {
			logger.Error("failed to start ingest watcher", "dir", cfg.Ingest.Dir, "error", err)
			os.Exit(1)
		}
		ingestor := ingest.NewIngestor(bookmarkSvc, documentSvc, ingestUser, logger)
		go ingestor.Run(ctx, paths)
		logger.Info("ingest watcher started", "dir", cfg.Ingest.Dir)
	}

	logger.Info("curated running",
		"db_driver", cfg.Database.Driver,
		"storage_backend", cfg.Storage.Backend,
		"queue_workers", cfg.Queue.Workers,
		"tagging_enabled", cfg.Tagging.Enabled())

	<-ctx.Done()
	logger.Info("shutting down, draining queues")
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	registry.Shutdown(drainCtx)
}

func openDatabase(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*repository.DB, error) {
	if cfg.Database.Driver == "sqlite" {
		return repository.OpenSQLite(cfg.Database.DSN, logger)
	}
	return repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
}

func openStore(ctx context.Context, cfg *common.Config, logger *slog.Logger) (storage.BlobStore, error) {
	if cfg.Storage.Backend == "gcs" {
		return storage.NewGCSStore(ctx, cfg.Storage.Bucket, logger)
	}
	return storage.NewFSStore(cfg.Storage.RootDir, logger)
}
