// Package main - фоновый процесс лиги.
//
// Worker отвечает за периодические задачи:
// - Закрытие прошлой недели в понедельник 00:00 по зоне лиги
// - Прогрев общего кэша живых таблиц и уведомление API-процессов
//
// Несколько worker'ов могут работать одновременно: при наличии Redis закрытие
// недели берёт распределённую блокировку.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alem-hub/focus-league/config"
	"github.com/alem-hub/focus-league/internal/bootstrap"
	"github.com/alem-hub/focus-league/internal/infrastructure/scheduler"
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
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: logger.ParseFormat(cfg.Observability.LogFormat),
	}).With(logger.String("process", "worker"))

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler is disabled (SCHEDULER_ENABLED=false), nothing to do")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
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
	// 3. РАСПИСАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	batchSchedule, err := scheduler.ParseCron(cfg.League.BatchSchedule, cfg.App.Location)
	if err != nil {
		return fmt.Errorf("LEAGUE_BATCH_SCHEDULE: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		Logger:            app.Slog,
		Location:          cfg.App.Location,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
	})
	if err := sched.Register(app.BatchJob, batchSchedule); err != nil {
		return fmt.Errorf("register weekly batch: %w", err)
	}
	if err := sched.Register(app.RefreshJob(), scheduler.Every(cfg.League.LeaderboardPollInterval)); err != nil {
		return fmt.Errorf("register leaderboard refresh: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	for _, j := range sched.ListJobs() {
		log.Info("job scheduled",
			logger.String("job", j.Name),
			logger.String("schedule", j.Schedule),
			logger.String("next_run", j.NextRun.Format(time.RFC3339)),
		)
	}

	// Догоняем пропущенное закрытие недели: уже закрытые когорты пропускаются.
	if cfg.Scheduler.CatchUpOnStart {
		go func() {
			if _, err := sched.RunNow(ctx, app.BatchJob.Name()); err != nil && ctx.Err() == nil {
				log.Warn("catch-up batch failed", logger.Err(err))
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal, waiting for running jobs",
		logger.Duration("timeout", cfg.App.ShutdownTimeout),
	)

	stopped := make(chan error, 1)
	go func() { stopped <- sched.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			log.Error("scheduler stop failed", logger.Err(err))
		}
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("jobs did not finish in time")
	}

	for _, j := range sched.ListJobs() {
		log.Info("job totals",
			logger.String("job", j.Name),
			logger.Int("runs", int(j.RunCount)),
			logger.Int("failures", int(j.FailCount)),
		)
	}
	log.Info("shutdown completed")
	return nil
}
