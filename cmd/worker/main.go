package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"docqa/internal/activities"
	"docqa/internal/config"
	"docqa/internal/providers"
	"docqa/internal/storage"
	"docqa/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	c, err := workflows.Dial(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.IngestConcurrency,
	})
	workflows.Register(w)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	if err := db.Migrate(ctx, cfg.EmbedDim); err != nil {
		log.Fatal(err)
	}
	pm, err := providers.NewManager(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	a, err := activities.New(cfg, db, pm, logger)
	if err != nil {
		log.Fatal(err)
	}
	activities.Register(w, a)

	log.Printf("docqa worker listening on %s queue=%s concurrency=%d object_store=%q embed_providers=%q",
		cfg.TemporalAddress, cfg.TemporalTaskQueue, cfg.IngestConcurrency, cfg.ObjectStore, cfg.EmbedProviders)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal(err)
	}
}
