// Dev server of record. Stands in for the production backend: stores the
// synced entity families in Postgres, answers pull/push, and broadcasts
// change events to Kafka so agents converge in realtime.
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
	"github.com/ariefcatur/go-offline-sync.git/internal/postgres"
	"github.com/ariefcatur/go-offline-sync.git/internal/realtime"
	"github.com/ariefcatur/go-offline-sync.git/internal/serverstore"
	"github.com/ariefcatur/go-offline-sync.git/internal/serverx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New()
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("connect postgres", "err", err)
	}
	defer pool.Close()

	repo := &serverstore.Repo{DB: pool}
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalw("ensure schema", "err", err)
	}

	draftProd := kafkax.NewProducer(cfg.KafkaBrokers, realtime.TopicDraftEvents, 256)
	pendingProd := kafkax.NewProducer(cfg.KafkaBrokers, realtime.TopicPendingEvents, 256)
	draftProd.Start(ctx)
	pendingProd.Start(ctx)

	router := httpx.NewRouter()
	sh := &serverx.SyncHandler{
		Repo:            repo,
		DraftProducer:   draftProd,
		PendingProducer: pendingProd,
		Service:         cfg.ServiceName,
		Log:             log.Named("http"),
	}
	sh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Infow("sync server listening", "addr", cfg.HTTPAddr)
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
	draftProd.WaitClosed()
	pendingProd.WaitClosed()
}
