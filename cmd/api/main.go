package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"amberscan/internal/app"
	"amberscan/internal/config"
	"amberscan/internal/server"
	"amberscan/internal/util"
	"amberscan/pkg/auth"
	"amberscan/pkg/queue"
	"amberscan/pkg/signature"
	"amberscan/pkg/storage"
	"amberscan/pkg/store"
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

	providerTTL := signature.DefaultProviderTTL
	if cfg.ProviderTTLDays > 0 {
		providerTTL = time.Duration(cfg.ProviderTTLDays) * 24 * time.Hour
	}
	signatures, err := signature.New(db, cfg.SignatureSecret, providerTTL)
	if err != nil {
		log.Fatalf("failed to init signature service: %v", err)
	}
	sessionTTL := time.Duration(cfg.SessionTTLMinutes) * time.Minute
	sessions, err := auth.NewSessionManager(cfg.SessionSecret, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init session manager: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:         db,
		Objects:       objects,
		Signatures:    signatures,
		Sessions:      sessions,
		Queue:         taskQueue,
		MaxImageBytes: cfg.MaxImageUploadBytes,
		MaxPDFBytes:   cfg.MaxPDFUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		TrustForwardedHeaders:      cfg.TrustForwardedHeaders,
		MaxImageBytes:              cfg.MaxImageUploadBytes,
		MaxPDFBytes:                cfg.MaxPDFUploadBytes,
		SessionTTL:                 sessionTTL,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("api server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
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
