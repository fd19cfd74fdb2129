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

	"github.com/tablesense/tablesense/internal/answer"
	"github.com/tablesense/tablesense/internal/api"
	"github.com/tablesense/tablesense/internal/app"
	"github.com/tablesense/tablesense/internal/auth"
	"github.com/tablesense/tablesense/internal/config"
	"github.com/tablesense/tablesense/internal/index"
	"github.com/tablesense/tablesense/internal/index/snapshot"
	"github.com/tablesense/tablesense/internal/nl2sql"
	"github.com/tablesense/tablesense/internal/observability"
	"github.com/tablesense/tablesense/internal/pipeline"
	"github.com/tablesense/tablesense/internal/query"
	"github.com/tablesense/tablesense/internal/sqlguard"
	"github.com/tablesense/tablesense/internal/storage"
)

func main() {
	cfg, err := config.LoadFromEnv("tablesense-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenQueryDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	objectStore, err := app.OpenObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize index store", slog.Any("error", err))
		os.Exit(1)
	}

	openai, err := app.OpenAIClient(cfg)
	if err != nil {
		logger.Error("failed to initialize embedding client", slog.Any("error", err))
		os.Exit(1)
	}
	completer, err := app.Completer(cfg, openai)
	if err != nil {
		logger.Error("failed to initialize completion client", slog.Any("error", err))
		os.Exit(1)
	}

	holder := index.NewHolder(nil)
	reloader := &snapshot.Reloader{
		Store:    objectStore,
		Embedder: openai,
		Holder:   holder,
		Model:    openai.EmbeddingModel(),
		Logger:   logger,
	}
	if cfg.Index.LoadOnStart {
		if _, err := reloader.Reload(ctx); err != nil {
			// Stay up but not ready; an index can be built and reloaded later.
			logger.Warn("schema index not loaded at startup", slog.Any("error", err))
		}
	}

	sqlSynth, err := nl2sql.NewSynthesizer(completer, nl2sql.Config{
		Temperature: cfg.AI.SQLTemperature,
		MaxTokens:   cfg.AI.MaxTokens,
		Dialect:     app.SQLDialect(cfg),
	})
	if err != nil {
		logger.Error("failed to initialize sql synthesizer", slog.Any("error", err))
		os.Exit(1)
	}
	answerer, err := answer.NewSynthesizer(completer, answer.Config{
		Temperature: cfg.AI.AnswerTemperature,
		MaxTokens:   cfg.AI.MaxTokens,
		RowLimit:    cfg.Pipeline.AnswerRowLimit,
	})
	if err != nil {
		logger.Error("failed to initialize answer synthesizer", slog.Any("error", err))
		os.Exit(1)
	}
	executor, err := query.NewExecutor(db, query.Options{
		Timeout:    cfg.Database.QueryTimeout,
		RowLimit:   cfg.Database.RowLimit,
		ReadOnlyTx: app.ReadOnlyTx(cfg),
	})
	if err != nil {
		logger.Error("failed to initialize query executor", slog.Any("error", err))
		os.Exit(1)
	}

	questions, err := pipeline.New(pipeline.Dependencies{
		Retriever:   holder,
		Synthesizer: sqlSynth,
		Validator:   sqlguard.Validate,
		Executor:    executor,
		Answerer:    answerer,
		Logger:      logger,
	}, pipeline.Config{
		TopK:           cfg.Index.TopK,
		RequestTimeout: cfg.Pipeline.RequestTimeout,
	})
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:   logger,
		Pipeline: questions,
		Index:    holder,
		Reloader: reloader,
		Readiness: api.CombineReadinessChecks(
			api.CheckIndexLoaded(holder),
			api.CheckDatabase(db),
			api.CheckObjectStore(objectStore),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("db_driver", cfg.Database.Driver),
			slog.String("index_store", storage.Location(objectStore)),
			slog.String("completion_provider", cfg.AI.CompletionProvider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
