package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"docqa/internal/api"
	"docqa/internal/config"
	"docqa/internal/providers"
	"docqa/internal/query"
	"docqa/internal/storage"
	"docqa/internal/workflows"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

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

	tc, err := workflows.Dial(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer tc.Close()

	pm, err := providers.NewManager(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	stack, err := query.NewStack(cfg, db, pm, logger)
	if err != nil {
		log.Fatal(err)
	}

	h := api.NewServer(cfg, stack.Orchestrator, storage.NewDocumentRepo(db), tc, logger)
	log.Printf("docqa api listening on %s llm_model=%q embed_providers=%q", cfg.APIAddr, cfg.LLMModel, cfg.EmbedProviders)
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal(err)
	}
}
