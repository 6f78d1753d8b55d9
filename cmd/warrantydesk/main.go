// Package main запускает HTTP-сервер службы гарантийной поддержки.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/warranty-desk/internal/config"
	"github.com/mmeshcher/warranty-desk/internal/embedding"
	"github.com/mmeshcher/warranty-desk/internal/handler"
	"github.com/mmeshcher/warranty-desk/internal/middleware"
	"github.com/mmeshcher/warranty-desk/internal/notify"
	"github.com/mmeshcher/warranty-desk/internal/policy"
	"github.com/mmeshcher/warranty-desk/internal/repository"
	"github.com/mmeshcher/warranty-desk/internal/retrieval"
	"github.com/mmeshcher/warranty-desk/internal/service"
	"github.com/mmeshcher/warranty-desk/internal/tools"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	rules, err := loadPolicy(cfg.PolicyFile)
	if err != nil {
		sugar.Fatalw("policy error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg.DatabaseURI, logger)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	cache, err := retrieval.OpenCache(ctx, cfg.IndexCache)
	if err != nil {
		sugar.Fatalw("index cache error", "error", err.Error())
	}
	defer cache.Close()

	var embedder retrieval.Embedder = embedding.NewHashEmbedder(0)
	if cfg.EmbeddingAPIURL != "" {
		embedder = embedding.NewClient(cfg.EmbeddingAPIURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	}
	index := retrieval.NewBuilder(embedder, cache, logger)

	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.SMTPAddr != "" {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	notifier := notify.NewDispatcher(sender, repo, logger)

	svc := service.NewService(repo, rules,
		service.WithNotifier(notifier),
		service.WithIndex(index),
		service.WithLogger(logger),
	)
	defer svc.Close()

	if err := svc.WarmIndex(ctx); err != nil {
		sugar.Warnw("policy index warm-up failed", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	dispatcher := tools.NewDispatcher(svc, service.IST, logger)
	h := handler.NewHandler(svc, dispatcher, logger, authMiddleware, cfg.StaffToken)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		notifier.StartRetries(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting warranty desk server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func loadPolicy(path string) (*policy.Store, error) {
	if path == "" {
		return policy.Default()
	}
	return policy.LoadFile(path)
}

// openStore открывает PostgreSQL по DSN; без DSN данные живут в памяти процесса.
func openStore(ctx context.Context, dsn string, logger *zap.Logger) (service.Repository, error) {
	if dsn == "" {
		logger.Warn("DATABASE_URI is empty, using in-memory store")
		return repository.NewMemoryRepository(), nil
	}
	repo, err := repository.NewPostgresRepository(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return repo, nil
}
