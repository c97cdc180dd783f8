// Package main runs the order-notification agent.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mealwave/ordernotify/internal/config"
	"github.com/mealwave/ordernotify/internal/engine"
	"github.com/mealwave/ordernotify/internal/handler"
	"github.com/mealwave/ordernotify/internal/middleware"
	"github.com/mealwave/ordernotify/internal/ordersapi"
	"github.com/mealwave/ordernotify/internal/push"
	"github.com/mealwave/ordernotify/internal/service"
	"github.com/mealwave/ordernotify/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	if cfg.BackendAddress == "" {
		sugar.Fatalw("backend address is required")
	}

	store, err := storage.Open(cfg.StateDSN)
	if err != nil {
		sugar.Fatalw("state storage initialization error", "error", err.Error())
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, store, logger, cfg.HistoryLimit)
	if err != nil {
		sugar.Fatalw("engine initialization error", "error", err.Error())
	}

	client := ordersapi.NewClient(cfg.BackendAddress, cfg.AuthToken)

	source, err := push.Open(cfg.PushAddress, cfg.AuthToken, cfg.UserID, logger)
	if err != nil {
		sugar.Fatalw("push source initialization error", "error", err.Error())
	}

	svc := service.New(client, eng, source, logger, service.Options{
		PollInterval: cfg.PollInterval,
		PromptDelay:  time.Second,
	})

	auth := middleware.NewBearerAuth(cfg.AuthToken)
	h := handler.NewHandler(svc, logger, auth)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Reconciliation loop: poll ticker, push wake-ups, manual wakes.
	g.Go(func() error {
		return svc.Run(ctx)
	})

	// Local presentation API.
	g.Go(func() error {
		sugar.Infow("starting ordernotify agent", "addr", cfg.RunAddress, "backend", cfg.BackendAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown on context cancellation (signal or error elsewhere).
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down agent...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("agent stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
