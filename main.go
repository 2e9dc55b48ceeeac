package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/zlnvch/fluxcanvas/api"
	"github.com/zlnvch/fluxcanvas/blob/disk"
	"github.com/zlnvch/fluxcanvas/cache/redis"
	"github.com/zlnvch/fluxcanvas/config"
	"github.com/zlnvch/fluxcanvas/mq"
	"github.com/zlnvch/fluxcanvas/mq/sqsmq"
	"github.com/zlnvch/fluxcanvas/notify"
	"github.com/zlnvch/fluxcanvas/store"
	"github.com/zlnvch/fluxcanvas/store/dynamo"
	"github.com/zlnvch/fluxcanvas/store/sqlite"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	canvasStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create %s store: %v", cfg.StoreBackend, err)
	}

	canvasCache, err := redis.NewRedisCanvasCache(ctx, cfg.DevMode, cfg.RedisEndpoint)
	if err != nil {
		log.Fatalf("Failed to create redis cache: %v", err)
	}

	var cleanupQueue mq.MessageQueue
	var notifier notify.Sink = notify.LogSink{}
	if cfg.SQSEndpoint != "" || !cfg.DevMode {
		sqsCleanup, err := sqsmq.NewSQSMessageQueue(ctx, cfg.DevMode, cfg.SQSEndpoint, cfg.CleanupQueue)
		if err != nil {
			log.Fatalf("Failed to create SQS cleanup queue: %v", err)
		}
		cleanupQueue = sqsCleanup

		sqsNotifications, err := sqsmq.NewSQSMessageQueue(ctx, cfg.DevMode, cfg.SQSEndpoint, cfg.NotificationQueue)
		if err != nil {
			log.Fatalf("Failed to create SQS notification queue: %v", err)
		}
		notifier = notify.NewQueueSink(sqsNotifications)
	} else {
		log.Printf("No SQS endpoint in dev mode: notifications are logged and deleted canvases are not cleaned up")
	}

	blobs, err := disk.NewDiskStore(cfg.UploadDir, cfg.UploadURLPrefix)
	if err != nil {
		log.Fatalf("Failed to create upload store: %v", err)
	}

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		log.Fatalf("Failed to read jwt secret: %v", err)
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	canvasAPI, err := api.NewCanvasAPI(cfg, canvasStore, canvasCache, cleanupQueue, notifier, blobs, jwtSecret, shutdownCtx)
	if err != nil {
		log.Fatalf("Failed to create canvas api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           canvasAPI.Router(blobs.Dir()),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	log.Printf("Server shutting down...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	canvasAPI.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (store.CanvasStore, error) {
	if cfg.StoreBackend == config.BackendSQLite {
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, err
			}
		}
		return sqlite.NewSQLiteCanvasStore(cfg.SQLitePath)
	}
	return dynamo.NewDynamoCanvasStore(ctx, cfg.DevMode, cfg.DynamoDBEndpoint, cfg.DynamoDBTable)
}
