package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/common"
	"github.com/radfollowup/wrangler/internal/export"
	"github.com/radfollowup/wrangler/internal/llm/openai"
	"github.com/radfollowup/wrangler/internal/pipeline"
	"github.com/radfollowup/wrangler/internal/query"
	"github.com/radfollowup/wrangler/internal/server"
	"github.com/radfollowup/wrangler/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()

	if cfg.Pipeline.VocabularyFile != "" {
		if err := constants.LoadVocabularyOverrides(cfg.Pipeline.VocabularyFile); err != nil {
			logger.Error("vocabulary.load.failed", "path", cfg.Pipeline.VocabularyFile, "error", err)
			os.Exit(1)
		}
		logger.Info("vocabulary.load.ok", "path", cfg.Pipeline.VocabularyFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store.open.failed", "dsn", cfg.Store.DSN, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	client := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		SelfCheck:   cfg.LLM.SelfCheck,
	}, logger)

	proc := pipeline.NewProcessor(
		pipeline.NewExtractStage(client, logger),
		pipeline.NewScoreStage(logger),
		st,
		cfg.Pipeline.SectionWorkers,
		logger,
	)
	qe := query.NewEngine(st, client, logger)
	ex := export.NewService(st, logger)

	srv := server.New(proc, st, qe, ex, logger)

	go func() {
		logger.Info("server.start", "addr", cfg.Server.Addr)
		if err := srv.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server.failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutdown.start")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Echo.Shutdown(shutdownCtx); err != nil {
		logger.Error("server.shutdown.failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server.shutdown.ok")
}

func openStore(ctx context.Context, cfg *common.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Store.DSN == "" {
		logger.Info("store.open.ok", "kind", "memory")
		return store.NewMemStore(logger), func() {}, nil
	}
	s, err := store.OpenSQL(ctx, cfg.Store, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("store.open.ok", "kind", "sql")
	return s, func() {
		if err := s.Close(); err != nil {
			logger.Error("store.close.failed", "error", err)
		}
	}, nil
}
