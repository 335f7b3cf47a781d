package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-offline-sync.git/internal/config"
	"github.com/ariefcatur/go-offline-sync.git/internal/httpx"
	"github.com/ariefcatur/go-offline-sync.git/internal/kafkax"
	"github.com/ariefcatur/go-offline-sync.git/internal/logx"
	"github.com/ariefcatur/go-offline-sync.git/internal/realtime"
	"github.com/ariefcatur/go-offline-sync.git/internal/redisx"
	"github.com/ariefcatur/go-offline-sync.git/internal/reservation"
	"github.com/ariefcatur/go-offline-sync.git/internal/store"
	"github.com/ariefcatur/go-offline-sync.git/internal/syncx"
	"github.com/ariefcatur/go-offline-sync.git/internal/transport"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New()
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// local store
	db, err := store.Open(cfg.SqlitePath)
	if err != nil {
		log.Fatalw("open store", "err", err)
	}
	defer db.Close()
	if err := store.Migrate(ctx, db); err != nil {
		log.Fatalw("migrate store", "err", err)
	}

	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID, err = db.DeviceID(ctx)
		if err != nil {
			log.Fatalw("device id", "err", err)
		}
	}
	log.Infow("agent starting", "device", deviceID)

	// redis (best-effort dedup / status cache)
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// transport + typed API
	client := transport.NewClient(cfg.SyncBaseURL, log.Named("transport"))
	client.MaxRetries = cfg.MaxRetries
	client.TotalTimeout = cfg.TotalTimeout
	client.OnAuthExpired = func(reason transport.RedirectReason) {
		log.Warnw("credentials expired, login required", "reason", reason)
	}
	api := &transport.API{C: client}

	// reservation coordinator
	coord := &reservation.Coordinator{
		Store:       db,
		API:         api,
		Log:         log.Named("reservation"),
		AsyncMirror: true,
	}
	// crash recovery before anything else touches pending orders
	if err := coord.RecoverCompleted(ctx); err != nil {
		log.Warnw("recovery sweep", "err", err)
	}

	notifier := realtime.NewNotifier(log.Named("notify"))

	// sync orchestrator
	orch := &syncx.Orchestrator{
		Store:       db,
		API:         api,
		Coordinator: coord,
		DeviceID:    deviceID,
		Log:         log.Named("sync"),
		Notifier:    notifier,
		Interval:    cfg.SyncInterval,
	}
	go orch.Run(ctx)

	// realtime consumers, one group per device so every broadcast arrives
	draftSvc := &realtime.DraftService{
		Store:    db,
		Redis:    rdb,
		DeviceID: deviceID,
		Log:      log.Named("draft-rt"),
		Notifier: notifier,
	}
	pendingSvc := &realtime.PendingService{
		Store:     db,
		Redis:     rdb,
		DeviceID:  deviceID,
		Log:       log.Named("pending-rt"),
		Notifier:  notifier,
		Finalizer: coord,
	}
	pendingSvc.Start(ctx, realtime.DefaultThrottleInterval)
	defer pendingSvc.Stop()

	draftCons := kafkax.NewConsumer(cfg.KafkaBrokers, "agent-"+deviceID+"-drafts", realtime.TopicDraftEvents, 1, log.Named("kafka"))
	pendingCons := kafkax.NewConsumer(cfg.KafkaBrokers, "agent-"+deviceID+"-pendings", realtime.TopicPendingEvents, 1, log.Named("kafka"))
	go func() {
		if err := draftCons.Start(ctx, draftSvc.Handle); err != nil {
			log.Errorw("draft consumer exit", "err", err)
			cancel()
		}
	}()
	go func() {
		if err := pendingCons.Start(ctx, pendingSvc.Handle); err != nil {
			log.Errorw("pending consumer exit", "err", err)
			cancel()
		}
	}()

	// UI-facing local API
	router := httpx.NewRouter()
	ah := &httpx.AgentHandler{
		Store:        db,
		Orchestrator: orch,
		Coordinator:  coord,
		DeviceID:     deviceID,
		Log:          log.Named("http"),
	}
	ah.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Infow("agent API listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listen", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
}
