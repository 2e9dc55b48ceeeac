package api

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/zlnvch/fluxcanvas/api/rest"
	"github.com/zlnvch/fluxcanvas/api/ws"
	"github.com/zlnvch/fluxcanvas/blob"
	"github.com/zlnvch/fluxcanvas/cache"
	"github.com/zlnvch/fluxcanvas/config"
	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/mq"
	"github.com/zlnvch/fluxcanvas/notify"
	"github.com/zlnvch/fluxcanvas/service"
	"github.com/zlnvch/fluxcanvas/store"
	"github.com/zlnvch/fluxcanvas/worker"
)

type CanvasAPI struct {
	cfg         *config.Config
	service     *service.Service
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
	workers     *sync.WaitGroup
}

// NewCanvasAPI starts the hub and background workers on shutdownCtx and wires
// the service they share. cleanupQueue may be nil, in which case deleted
// canvases are only marked and their layers are left for a later sweep.
func NewCanvasAPI(
	cfg *config.Config,
	canvasStore store.CanvasStore,
	canvasCache cache.CanvasCache,
	cleanupQueue mq.MessageQueue,
	notifier notify.Sink,
	blobs blob.Store,
	jwtSecret []byte,
	shutdownCtx context.Context,
) (*CanvasAPI, error) {
	wsHub := ws.NewHub(canvasCache)
	err := wsHub.InitSubscriptions(shutdownCtx)
	if err != nil {
		log.Printf("Failed to start WS Hub subscriptions service: %v", err)
		return &CanvasAPI{}, err
	}
	go wsHub.Run(shutdownCtx)

	workers := &sync.WaitGroup{}

	viewBatcher := worker.NewViewBatcher(canvasStore, cfg.ViewFlushInterval)
	workers.Go(func() { viewBatcher.Run(shutdownCtx) })

	expirySweeper := worker.NewExpirySweeper(canvasStore, cfg.ExpirySweepInterval)
	workers.Go(func() { expirySweeper.Run(shutdownCtx) })

	if cleanupQueue != nil {
		cleanupConsumer := worker.NewCleanupConsumer(cleanupQueue, canvasStore, canvasCache)
		workers.Go(func() { cleanupConsumer.Run(shutdownCtx) })
	}

	svc := service.NewService(
		canvasStore,
		canvasCache,
		cleanupQueue,
		notifier,
		blobs,
		viewBatcher,
		jwtSecret,
	)

	return &CanvasAPI{
		cfg:         cfg,
		service:     svc,
		restHandler: rest.NewHandler(svc, cfg.MaxUploadBytes),
		wsHandler:   ws.NewHandler(svc, wsHub),
		shutdownCtx: shutdownCtx,
		workers:     workers,
	}, nil
}

// Wait blocks until the background workers have stopped. The view batcher
// flushes its pending counts before returning.
func (canvasAPI *CanvasAPI) Wait() {
	canvasAPI.workers.Wait()
}

// Router builds the HTTP surface. uploadDir is served under the configured
// upload prefix when non-empty.
func (canvasAPI *CanvasAPI) Router(uploadDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Health check endpoint (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if uploadDir != "" {
		prefix := strings.TrimSuffix(canvasAPI.cfg.UploadURLPrefix, "/")
		r.Handle(prefix+"/*", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(uploadDir))))
	}

	if canvasAPI.cfg.DevMode {
		r.Get("/dev/token", canvasAPI.handleDevToken)
	}

	canvasAPI.restHandler.Mount(r)

	wsUpgrader := canvasAPI.wsHandler.NewWsUpgrader(canvasAPI.cfg.AllowedOrigin)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		canvasAPI.wsHandler.ServeWS(wsUpgrader, w, r, canvasAPI.shutdownCtx)
	})

	return r
}

// handleDevToken issues a token for any user id. Only mounted in dev mode,
// where no identity provider is wired.
func (canvasAPI *CanvasAPI) handleDevToken(w http.ResponseWriter, r *http.Request) {
	userId := r.URL.Query().Get("userId")
	if userId == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	username := r.URL.Query().Get("username")
	if username == "" {
		username = userId
	}

	token, err := canvasAPI.service.CreateJWT(models.User{Id: userId, Username: username})
	if err != nil {
		log.Printf("CreateJWT failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(token))
}
