// Package eventhandler содержит обработчики доменных событий и фоновые
// реакции на них: пересчёт живых таблиц и сброс кэша после закрытия недели.
package eventhandler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// LEADERBOARD REFRESHER
// Два источника (уведомления об изменениях и периодический опрос) сливаются
// в один сигнал пересчёта. Одновременно идёт не больше одного пересчёта,
// сигналы во время пересчёта схлопываются в один следующий запуск.
// ═══════════════════════════════════════════════════════════════════════════

// DefaultPollInterval - период опроса по умолчанию.
const DefaultPollInterval = 60 * time.Second

// Recomputer пересчитывает все таблицы текущей недели.
type Recomputer interface {
	RefreshWeek(ctx context.Context) (timeutil.Date, int, error)
}

// RefreshNotice отправляется слушателям после каждого успешного пересчёта.
type RefreshNotice struct {
	WeekStart timeutil.Date `json:"week_start"`
	Groups    int           `json:"groups"`
	At        time.Time     `json:"at"`
}

// LeaderboardRefresher - фоновый цикл пересчёта.
type LeaderboardRefresher struct {
	recompute Recomputer
	poll      time.Duration
	signal    chan struct{}
	logger    *slog.Logger

	mu        sync.RWMutex
	listeners []func(RefreshNotice)

	runs     atomic.Int64
	triggers atomic.Int64
}

// NewLeaderboardRefresher создаёт цикл. poll <= 0 - период по умолчанию.
func NewLeaderboardRefresher(recompute Recomputer, poll time.Duration, logger *slog.Logger) *LeaderboardRefresher {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderboardRefresher{
		recompute: recompute,
		poll:      poll,
		signal:    make(chan struct{}, 1),
		logger:    logger.With("component", "leaderboard_refresher"),
	}
}

// OnRefresh регистрирует слушателя (например, WebSocket hub).
func (r *LeaderboardRefresher) OnRefresh(fn func(RefreshNotice)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Trigger просит пересчёт. Никогда не блокирует: если сигнал уже ждёт,
// новый сливается с ним.
func (r *LeaderboardRefresher) Trigger() {
	r.triggers.Add(1)
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Handle реализует shared.EventHandler: любое событие лиги - повод пересчитать.
func (r *LeaderboardRefresher) Handle(event shared.Event) error {
	r.logger.Debug("refresh requested by event", "event_type", string(event.EventType()))
	r.Trigger()
	return nil
}

// Run крутит цикл до отмены ctx.
func (r *LeaderboardRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	r.logger.Info("leaderboard refresher started", "poll_interval", r.poll.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("leaderboard refresher stopped", "runs", r.runs.Load())
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx, "poll")
		case <-r.signal:
			r.refresh(ctx, "signal")
		}
	}
}

func (r *LeaderboardRefresher) refresh(ctx context.Context, source string) {
	start := time.Now()
	week, groups, err := r.recompute.RefreshWeek(ctx)
	r.runs.Add(1)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("leaderboard refresh failed", "source", source, "error", err)
		}
		return
	}

	r.logger.Debug("leaderboards refreshed",
		"source", source,
		"week_start", week.String(),
		"groups", groups,
		"duration", time.Since(start).String(),
	)

	notice := RefreshNotice{WeekStart: week, Groups: groups, At: time.Now().UTC()}
	r.mu.RLock()
	listeners := append([]func(RefreshNotice){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(notice)
	}
}

// Runs - сколько пересчётов выполнено.
func (r *LeaderboardRefresher) Runs() int64 {
	return r.runs.Load()
}
