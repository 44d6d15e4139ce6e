// Package main запускает HTTP-сервер движка сегментации и доступности наград.
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/loyalty-engine/internal/config"
	"github.com/mmeshcher/loyalty-engine/internal/events"
	"github.com/mmeshcher/loyalty-engine/internal/factstore"
	"github.com/mmeshcher/loyalty-engine/internal/handler"
	"github.com/mmeshcher/loyalty-engine/internal/metrics"
	"github.com/mmeshcher/loyalty-engine/internal/pos"
	"github.com/mmeshcher/loyalty-engine/internal/repository"
	"github.com/mmeshcher/loyalty-engine/internal/service"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 5 * time.Second
	consumerGroupID = "loyalty-engine"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		sugar.Warnw("load .env failed", "error", err.Error())
	}

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var store factstore.Store
	if cfg.DatabaseURI != "" {
		store, err = factstore.NewPostgresStore(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Infow("DATABASE_URI is empty, using in-memory fact store")
		store = factstore.NewMemoryStore()
	}

	repo := repository.New(store)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	opts := service.Options{
		Fanout:     cfg.FanoutLimit,
		PageSize:   cfg.PageSize,
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
		Metrics:    m,
	}

	if cfg.POSSystemAddress != "" {
		opts.Redemptions = pos.NewClient(cfg.POSSystemAddress)
	}

	var publisher *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic, logger, m)
		opts.Publisher = publisher
	}

	svc := service.NewService(repo, opts)
	defer svc.Close()

	h := handler.NewHandler(svc, logger)
	r := h.SetupRouter(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), cfg.CORSAllowedOrigins)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового закрытия неактивных сессий
	g.Go(func() error {
		svc.StartSessionSweeper(ctx, sweepInterval)
		return nil
	})

	// Подписка на изменения состояния наград клиентов
	if len(cfg.KafkaBrokers) > 0 {
		subscriber := events.NewKafkaSubscriber(cfg.KafkaBrokers, cfg.KafkaStateTopic, consumerGroupID, svc.Sessions(), logger, m)
		g.Go(func() error {
			sugar.Infow("starting state change subscriber", "topic", cfg.KafkaStateTopic)
			return subscriber.Run(ctx)
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting loyalty engine server", "addr", cfg.RunAddress, "fanout", cfg.FanoutLimit)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				sugar.Warnw("close event publisher failed", "error", err.Error())
			}
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
