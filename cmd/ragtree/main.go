package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nxen/ragtree/internal/api"
	"github.com/nxen/ragtree/internal/chunker"
	"github.com/nxen/ragtree/internal/config"
	"github.com/nxen/ragtree/internal/embedding"
	"github.com/nxen/ragtree/internal/llm"
	"github.com/nxen/ragtree/internal/pipeline"
	"github.com/nxen/ragtree/internal/store"
	"github.com/nxen/ragtree/internal/tokenizer"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	embedder := embedding.NewDashScopeClient(cfg.DashScopeBaseURL, cfg.DashScopeAPIKey, cfg.EmbeddingModel)
	chat := llm.NewClient(cfg.DashScopeBaseURL, cfg.DashScopeAPIKey, cfg.ChatModel)

	// Initialize chunkers. The tokenizer service caches one BPE
	// encoder per canonical model across both chunkers.
	tokCache := tokenizer.NewService()
	recursive, err := chunker.NewRecursiveChunker(tokCache, cfg.MaxTokens, cfg.TokenizerModel)
	if err != nil {
		log.Error("tokenizer init failed", "model", cfg.TokenizerModel, "error", err)
		os.Exit(1)
	}
	faq, err := chunker.NewFAQChunker(tokCache, cfg.MaxTokens, cfg.FAQOverlap, cfg.TokenizerModel)
	if err != nil {
		log.Error("tokenizer init failed", "model", cfg.TokenizerModel, "error", err)
		os.Exit(1)
	}

	// Initialize vector store.
	st, err := store.New(ctx, cfg.DatabaseURL, cfg.ChunkTable, embedder.Dimension())
	if err != nil {
		log.Error("store connect failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		log.Error("store init failed", "error", err)
		os.Exit(1)
	}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, embedder, st, recursive, faq, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, chat, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting ragtree", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
