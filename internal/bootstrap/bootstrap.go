// Package bootstrap собирает зависимости лиги из config.Config. Им пользуются
// server, worker и leaguectl, чтобы все процессы видели одну и ту же схему
// хранилищ, кэша и событий.
package bootstrap

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/focus-league/config"
	"github.com/alem-hub/focus-league/internal/application/command"
	"github.com/alem-hub/focus-league/internal/application/eventhandler"
	"github.com/alem-hub/focus-league/internal/application/query"
	"github.com/alem-hub/focus-league/internal/domain/accountability"
	"github.com/alem-hub/focus-league/internal/domain/badge"
	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/metrics"
	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/internal/domain/streak"
	"github.com/alem-hub/focus-league/internal/infrastructure/anonymizer"
	"github.com/alem-hub/focus-league/internal/infrastructure/messaging"
	"github.com/alem-hub/focus-league/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/focus-league/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/focus-league/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/focus-league/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/alem-hub/focus-league/internal/interface/http"
	"github.com/alem-hub/focus-league/internal/interface/http/live"
	"github.com/alem-hub/focus-league/pkg/circuitbreaker"
	"github.com/alem-hub/focus-league/pkg/logger"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APP
// ══════════════════════════════════════════════════════════════════════════════

// EventBus - шина событий процесса (in-memory или поверх Redis).
type EventBus interface {
	shared.EventBus
	Close() error
}

// App - собранное приложение.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Slog     *slog.Logger
	Resolver *timeutil.WeekResolver

	// Хранилища
	Leagues       league.Repository
	Sessions      session.Repository
	SessionWriter session.Writer
	Badges        badge.Repository
	Relationships accountability.Repository

	// Redis; nil, если отключён или недоступен
	Cache  *redis.Cache
	Boards *redis.BoardCache

	Bus        EventBus
	Anonymizer *anonymizer.Anonymizer
	Aggregator *metrics.Aggregator
	Streaks    *streak.Evaluator
	Engine     *badge.Engine

	// Сценарии
	Batch         *command.RunWeeklyBatchHandler
	BatchJob      *jobs.WeeklyBatchJob
	Relationship  *command.RelationshipHandler
	Leaderboard   *query.GetLeaderboardHandler
	PartnerReport *query.GetPartnerReportHandler
	History       *query.GetHistoryHandler
	BadgeList     *query.GetBadgesHandler
	Streak        *query.GetStreakHandler

	// Живые таблицы
	Refresher *eventhandler.LeaderboardRefresher
	Hub       *live.Hub

	Health *httpapi.HealthChecker

	storageName string
	closers     []func() error
}

// Options - то, что зависит от роли процесса.
type Options struct {
	// SkipRedis не подключает Redis даже при наличии настроек (CLI).
	SkipRedis bool
}

// New собирает App. При ошибке всё уже открытое закрывается.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (_ *App, err error) {
	if log == nil {
		log = logger.New(logger.Options{
			Level:  logger.ParseLevel(cfg.Observability.LogLevel),
			Format: logger.ParseFormat(cfg.Observability.LogFormat),
		})
	}

	app := &App{
		Config:   cfg,
		Logger:   log,
		Slog:     log.Slog(),
		Resolver: timeutil.NewWeekResolver(cfg.App.Location),
		Health:   httpapi.NewHealthChecker(),
	}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	if err := app.openStorage(ctx); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	if !opts.SkipRedis && !cfg.Redis.Disabled {
		app.openRedis()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ШИНА СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	if err := app.openBus(); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ДОМЕН И СЦЕНАРИИ
	// ─────────────────────────────────────────────────────────────────────────
	if err := app.buildHandlers(ctx); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ПОДПИСКИ
	// ─────────────────────────────────────────────────────────────────────────
	if err := app.subscribe(); err != nil {
		return nil, err
	}

	app.Slog.Info("application assembled",
		"storage", app.storageName,
		"redis", app.Cache != nil,
		"zone", cfg.App.ZoneName,
	)
	return app, nil
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) openStorage(ctx context.Context) error {
	db := a.Config.Database
	switch db.Driver {
	case config.DriverPostgres:
		pc := postgres.DefaultPoolConfig()
		if db.MaxOpenConns > 0 {
			pc.MaxConns = int32(db.MaxOpenConns)
		}
		if db.MaxIdleConns > 0 {
			pc.MinConns = int32(min(db.MaxIdleConns, db.MaxOpenConns))
		}
		if db.ConnMaxLifetime > 0 {
			pc.MaxConnLifetime = db.ConnMaxLifetime
		}
		if db.ConnMaxIdleTime > 0 {
			pc.MaxConnIdleTime = db.ConnMaxIdleTime
		}

		conn, err := postgres.NewConnection(ctx, db.URL, pc)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.onClose(func() error { conn.Close(); return nil })

		if db.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
			a.Slog.Info("postgres schema is up to date", "applied", applied)
		}

		sessions := postgres.NewSessionRepository(conn)
		a.Leagues = postgres.NewLeagueRepository(conn)
		a.Sessions = sessions
		a.SessionWriter = sessions
		a.Badges = postgres.NewBadgeRepository(conn)
		a.Relationships = postgres.NewRelationshipRepository(conn)
		a.Health.AddCheck("database", conn.Ping)
		a.storageName = config.DriverPostgres

	case config.DriverSQLite:
		sqlDB, err := sqlite.Open(db.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.onClose(sqlDB.Close)

		sessions := sqlite.NewSessionStore(sqlDB)
		a.Leagues = sqlite.NewLeagueStore(sqlDB)
		a.Sessions = sessions
		a.SessionWriter = sessions
		a.Badges = sqlite.NewBadgeStore(sqlDB)
		a.Relationships = sqlite.NewRelationshipStore(sqlDB)
		a.Health.AddCheck("database", pinger(sqlDB))
		a.storageName = config.DriverSQLite

	default:
		return fmt.Errorf("unknown storage driver %q", db.Driver)
	}
	return nil
}

func pinger(db *sql.DB) httpapi.HealthCheckFunc {
	return db.PingContext
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS
// ══════════════════════════════════════════════════════════════════════════════

// openRedis не считает недоступный Redis фатальным: лига работает и без
// общего кэша, теряется только межпроцессная координация.
func (a *App) openRedis() {
	rc := a.Config.Redis
	cfg := redis.DefaultConfig()
	cfg.URL = rc.URL
	cfg.Host = rc.Host
	cfg.Port = rc.Port
	cfg.Password = rc.Password
	cfg.DB = rc.DB
	if rc.PoolSize > 0 {
		cfg.PoolSize = rc.PoolSize
	}
	cfg.MinIdleConns = rc.MinIdleConns
	cfg.Namespace = rc.Namespace
	if rc.DialTimeout > 0 {
		cfg.DialTimeout = rc.DialTimeout
	}
	if rc.ReadTimeout > 0 {
		cfg.ReadTimeout = rc.ReadTimeout
	}
	if rc.WriteTimeout > 0 {
		cfg.WriteTimeout = rc.WriteTimeout
	}

	cache, err := redis.NewCache(cfg)
	if err != nil {
		a.Slog.Warn("redis unavailable, running without shared cache", "error", err)
		return
	}
	a.onClose(cache.Close)

	a.Cache = cache
	a.Boards = redis.NewBoardCache(cache, rc.BoardTTL)
	a.Health.AddCheck("redis", cache.Ping)
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) openBus() error {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = a.Slog

	if a.Cache == nil {
		bus := messaging.NewInMemoryEventBus(local)
		a.Bus = bus
		a.onClose(bus.Close)
		return nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:  messaging.NewGoRedisClient(a.Cache.Client()),
		Channel: a.Config.Redis.Namespace + "events",
		Local:   local,
		Logger:  a.Slog,
	})
	if err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	a.Bus = bus
	a.onClose(bus.Close)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) buildHandlers(ctx context.Context) error {
	cfg := a.Config

	// Без секрета (разрешено вне production) берём случайный на процесс:
	// маски меняются при рестарте и различаются между процессами.
	secret := []byte(cfg.Anonymizer.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("anonymizer: random secret: %w", err)
		}
		a.Slog.Warn("ANONYMIZER_SECRET is empty, using a random per-process secret")
	}
	anon, err := anonymizer.New(secret, cfg.Anonymizer.Prefix)
	if err != nil {
		return fmt.Errorf("anonymizer: %w", err)
	}
	a.Anonymizer = anon

	catalog, err := config.LoadBadgeCatalog(cfg.League.BadgeCatalogPath)
	if err != nil {
		return fmt.Errorf("badge catalog: %w", err)
	}
	rules, err := catalog.Rules()
	if err != nil {
		return fmt.Errorf("badge catalog: %w", err)
	}
	a.Engine, err = badge.NewEngine(rules)
	if err != nil {
		return fmt.Errorf("badge engine: %w", err)
	}
	if err := a.Badges.UpsertCatalog(ctx, a.Engine.Catalog()); err != nil {
		return fmt.Errorf("store badge catalog: %w", err)
	}

	a.Aggregator = metrics.NewAggregator(a.Sessions, cfg.League.DefaultWeeklyTargetMinutes)
	a.Streaks = streak.NewEvaluator(a.Sessions, a.Resolver, cfg.League.StreakLookbackWeeks)

	// ─────────────────────────────────────────────────────────────────────────
	// Закрытие недели
	// ─────────────────────────────────────────────────────────────────────────
	a.Batch = command.NewRunWeeklyBatchHandler(
		a.Leagues, a.Sessions, a.Aggregator,
		a.Engine, a.Badges, a.Streaks,
		a.Bus, a.Resolver, a.Slog,
		command.RunWeeklyBatchConfig{
			MaxCohortSize:  cfg.League.MaxCohortSize,
			Policy:         league.Policy{HQCThresholdMinutes: cfg.League.HQCThresholdMinutes},
			MaxAttempts:    cfg.League.CohortMaxAttempts,
			RetryBaseDelay: cfg.League.CohortRetryBaseDelay,
			RetryMaxDelay:  cfg.League.CohortRetryMaxDelay,
			EvaluateBadges: cfg.Features.Enabled(config.FeatureBadges),

			InactiveAfterWeeks: cfg.League.InactiveAfterWeeks,
		},
	)

	// A nil *redis.Cache must not reach the job as a non-nil interface.
	var locker jobs.Locker
	if a.Cache != nil {
		locker = a.Cache
	}
	a.BatchJob = jobs.NewWeeklyBatchJob(a.Batch, locker, a.Slog, jobs.DefaultWeeklyBatchConfig())

	a.Relationship = command.NewRelationshipHandler(a.Relationships, a.Bus, a.Slog)

	// ─────────────────────────────────────────────────────────────────────────
	// Чтение
	// ─────────────────────────────────────────────────────────────────────────
	lbCfg := query.LeaderboardConfig{
		PublicNames: func(user shared.UserID) bool {
			return cfg.Features.EnabledFor(config.FeaturePublicNames, user)
		},
		Logger: a.Slog,
	}
	if a.Boards != nil {
		lbCfg.Cache = a.Boards
		lbCfg.Breaker = circuitbreaker.New("board-cache",
			circuitbreaker.WithFailureThreshold(5),
			circuitbreaker.WithTimeout(30*time.Second),
			circuitbreaker.WithIsFailure(func(err error) bool {
				return err != nil && !shared.IsNotFound(err)
			}),
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				a.Slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}),
		)
	}
	a.Leaderboard = query.NewGetLeaderboardHandler(a.Leagues, a.Aggregator, a.Anonymizer, a.Resolver, lbCfg)
	a.PartnerReport = query.NewGetPartnerReportHandler(a.Relationships, a.Aggregator, a.Resolver, cfg.Accountability.CommitmentRateBypass)
	a.History = query.NewGetHistoryHandler(a.Leagues)
	a.BadgeList = query.NewGetBadgesHandler(a.Badges)
	a.Streak = query.NewGetStreakHandler(a.Streaks, a.Resolver)

	// ─────────────────────────────────────────────────────────────────────────
	// Живые таблицы
	// ─────────────────────────────────────────────────────────────────────────
	a.Hub = live.NewHub(a.Slog)
	a.Refresher = eventhandler.NewLeaderboardRefresher(a.Leaderboard, cfg.League.LeaderboardPollInterval, a.Slog)
	a.Refresher.OnRefresh(func(n eventhandler.RefreshNotice) {
		a.Hub.LeaderboardRefreshed(n.WeekStart, n.Groups, n.At)
	})
	return nil
}

func (a *App) subscribe() error {
	var boards league.BoardCache
	var notifier league.ChangeNotifier
	if a.Boards != nil {
		boards, notifier = a.Boards, a.Boards
	}
	onClosed := eventhandler.NewOnWeekClosedHandler(boards, notifier, a.Refresher.Trigger, a.Slog)

	if err := a.Bus.Subscribe(shared.EventWeekClosed, onClosed.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", shared.EventWeekClosed, err)
	}
	if err := a.Bus.Subscribe(shared.EventLeaderboardInvalidated, a.Refresher.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", shared.EventLeaderboardInvalidated, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RUNTIME
// ══════════════════════════════════════════════════════════════════════════════

// RunLive крутит пересчёт живых таблиц до отмены ctx. Уведомления из Redis
// с причиной "refresh" означают, что worker уже прогрел общий кэш: их
// достаточно разослать клиентам без повторного пересчёта.
func (a *App) RunLive(ctx context.Context) error {
	if a.Boards != nil {
		changes := a.Boards.Changes(ctx, a.Slog)
		go func() {
			for n := range changes {
				if n.Reason != "refresh" {
					a.Refresher.Trigger()
					continue
				}
				week, err := timeutil.ParseDate(n.WeekStart)
				if err != nil {
					a.Slog.Warn("bad change notice", "week_start", n.WeekStart, "error", err)
					continue
				}
				a.Hub.LeaderboardRefreshed(week, 0, n.At)
			}
		}()
	}

	err := a.Refresher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RefreshJob - периодический прогрев кэша из worker.
func (a *App) RefreshJob() *jobs.RefreshLeaderboardJob {
	var notifier league.ChangeNotifier
	if a.Boards != nil {
		notifier = a.Boards
	}
	return jobs.NewRefreshLeaderboardJob(a.Leaderboard, notifier, a.Slog)
}

// HTTPServer собирает HTTP API поверх сценариев App.
func (a *App) HTTPServer() *httpapi.Server {
	cfg := a.Config
	hc := httpapi.DefaultConfig()
	hc.Host = cfg.HTTP.Host
	hc.Port = cfg.HTTP.Port
	hc.ReadTimeout = cfg.HTTP.ReadTimeout
	hc.WriteTimeout = cfg.HTTP.WriteTimeout
	hc.IdleTimeout = cfg.HTTP.IdleTimeout
	hc.AllowedOrigins = cfg.HTTP.AllowedOrigins
	hc.RateLimitPerMinute = cfg.HTTP.RateLimitPerMin
	hc.APIKeys = cfg.HTTP.APIKeys
	hc.JWTSecret = cfg.Auth.JWTSecret
	hc.JWTIssuer = cfg.Auth.Issuer

	return httpapi.NewServer(hc, httpapi.Dependencies{
		Batch:          a.BatchJob,
		Leaderboard:    a.Leaderboard,
		Partners:       a.PartnerReport,
		History:        a.History,
		Badges:         a.BadgeList,
		Streak:         a.Streak,
		Relationships:  a.Relationship,
		Live:           live.Handler(a.Hub, cfg.HTTP.AllowedOrigins),
		FeatureEnabled: cfg.Features.EnabledFor,
		Health:         a.Health,
		Logger:         a.Logger,
	})
}
