// Package main - HTTP API лиги: таблицы, партнёрские отчёты, история,
// значки и WebSocket с уведомлениями о пересчёте таблиц.
//
// Закрытие недели по расписанию выполняет worker; здесь оно доступно только
// вручную через POST /api/v1/league/batch с API-ключом.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/focus-league/config"
	"github.com/alem-hub/focus-league/internal/bootstrap"
	"github.com/alem-hub/focus-league/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    logger.ParseFormat(cfg.Observability.LogFormat),
		AddCaller: cfg.App.Debug,
	}).With(logger.String("process", "server"))
	log.Info("starting focus league API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("zone", cfg.App.ZoneName),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. СБОРКА ЗАВИСИМОСТЕЙ
	// ─────────────────────────────────────────────────────────────────────────
	app, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("close failed", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ЖИВЫЕ ТАБЛИЦЫ И HTTP
	// ─────────────────────────────────────────────────────────────────────────
	liveDone := make(chan error, 1)
	go func() { liveDone <- app.RunLive(ctx) }()

	server := app.HTTPServer()
	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = err
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", logger.Err(err))
	}
	select {
	case err := <-liveDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("live refresher failed", logger.Err(err))
		}
	case <-shutdownCtx.Done():
		log.Warn("live refresher did not stop in time")
	}

	log.Info("shutdown completed")
	return runErr
}
