package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"amberscan/internal/config"
	"amberscan/internal/util"
	"amberscan/pkg/completion"
	"amberscan/pkg/pipeline"
	"amberscan/pkg/queue"
	"amberscan/pkg/storage"
	"amberscan/pkg/store"
	"amberscan/pkg/vision"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	objects, err := buildStorage(cfg)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}
	taskQueue, err := buildQueue(cfg)
	if err != nil {
		log.Fatalf("failed to init task queue: %v", err)
	}

	visionKey, err := resolveSecret(db, cfg.VisionAPIKey, "vision_api_key")
	if err != nil {
		log.Fatalf("failed to resolve vision api key: %v", err)
	}
	completionKey, err := resolveSecret(db, cfg.CompletionAPIKey, "completion_api_key")
	if err != nil {
		log.Fatalf("failed to resolve completion api key: %v", err)
	}

	extractor, err := vision.NewClient(visionKey, time.Duration(cfg.VisionTimeoutSeconds)*time.Second)
	if err != nil {
		log.Fatalf("failed to init vision client: %v", err)
	}
	completer, err := completion.NewClient(cfg.CompletionEndpoint, completionKey, cfg.CompletionModel, time.Duration(cfg.CompletionTimeoutSeconds)*time.Second)
	if err != nil {
		log.Fatalf("failed to init completion client: %v", err)
	}

	processor, err := pipeline.New(db, objects, extractor, completer)
	if err != nil {
		log.Fatalf("failed to init processor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskQueue.Start(ctx, cfg.QueueConcurrency, processor.Handle)
	slog.Info("worker started", "queue", cfg.QueueName, "concurrency", cfg.QueueConcurrency)

	<-ctx.Done()
	logger.Info("worker shutting down")
}

// resolveSecret prefers config/env values and falls back to the secrets
// table, so deploys can rotate keys without restarting every node.
func resolveSecret(db store.Store, configured, name string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	value, ok, err := db.GetSecret(name)
	if err != nil {
		return "", err
	}
	if !ok || value == "" {
		return "", fmt.Errorf("secret %q is not configured in env, config, or the secrets table", name)
	}
	return value, nil
}

func buildStorage(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.StorageDriver == "minio" {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	return storage.NewLocalStore(cfg.StorageRoot)
}

func buildQueue(cfg config.FileConfig) (queue.TaskQueue, error) {
	if cfg.QueueDriver == "amqp" {
		return queue.NewAMQPJobQueue(queue.AMQPQueueConfig{
			URL:        cfg.AMQPURL,
			Queue:      cfg.QueueName,
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		})
	}
	return queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueName,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
}
