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

	"tutorchat/internal/util"
	"tutorchat/pkg/events"
	"tutorchat/pkg/queue"
	"tutorchat/pkg/storage"
	"tutorchat/pkg/store"
	"tutorchat/services/attach/internal/app"
	"tutorchat/services/attach/internal/config"
	"tutorchat/services/attach/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var records store.AttachmentStore
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to init database store", "err", err)
			os.Exit(1)
		}
		records = gormStore
	} else {
		logger.Warn("no databaseURL configured, attachment records are in-memory")
		records = store.NewMemoryStore()
	}

	var blobs storage.BlobStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Error("failed to init minio store", "err", err)
			os.Exit(1)
		}
		blobs = minioStore
	} else {
		localStore, err := storage.NewLocalStore(cfg.LocalStoragePath)
		if err != nil {
			logger.Error("failed to init local blob store", "err", err)
			os.Exit(1)
		}
		blobs = localStore
	}

	var jobQueue *queue.RedisJobQueue
	if cfg.RedisAddr != "" {
		jobQueue, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   orDefault(cfg.QueueName, "attach:extract"),
			Group:    orDefault(cfg.QueueGroup, "attach"),
		})
		if err != nil {
			logger.Error("failed to init extraction queue", "err", err)
			os.Exit(1)
		}
	}

	var publisher *events.Publisher
	if cfg.AMQPEnabled {
		publisher, err = events.NewPublisher(cfg.AMQPURL, logger)
		if err != nil {
			logger.Error("failed to init event publisher", "err", err)
			os.Exit(1)
		}
		defer publisher.Close()
	}

	appCore, err := app.New(app.Config{
		Store:              records,
		Blobs:              blobs,
		Queue:              jobQueue,
		Events:             publisher,
		Logger:             logger,
		PDFWorkerPath:      cfg.PDFWorkerPath,
		ExtractTimeout:     time.Duration(cfg.ExtractTimeoutSeconds) * time.Second,
		MinTextChars:       cfg.MinTextChars,
		PollInterval:       time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		ServerPollDeadline: time.Duration(cfg.ServerPollDeadlineSeconds) * time.Second,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		OCRCommand:         cfg.OCRCommand,
	})
	if err != nil {
		logger.Error("failed to init app", "err", err)
		os.Exit(1)
	}

	httpServer, err := server.New(server.Config{
		App:              appCore,
		InternalTokenKey: cfg.InternalTokenKey,
		AllowedIssuers:   cfg.Issuers(),
	})
	if err != nil {
		logger.Error("failed to init server", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	concurrency := cfg.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	appCore.StartQueueConsumers(ctx, concurrency)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("attach server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
