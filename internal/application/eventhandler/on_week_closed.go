package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON WEEK CLOSED HANDLER
// После закрытия недели таблицы обеих недель устарели: сбрасываем кэш и
// сообщаем остальным процессам через ChangeNotifier.
// ═══════════════════════════════════════════════════════════════════════════

// OnWeekClosedHandler обрабатывает league.week_closed.
type OnWeekClosedHandler struct {
	cache    league.BoardCache     // может быть nil
	notifier league.ChangeNotifier // может быть nil
	local    func()                // локальный Trigger; может быть nil
	timeout  time.Duration
	logger   *slog.Logger
}

// NewOnWeekClosedHandler создаёт обработчик.
func NewOnWeekClosedHandler(cache league.BoardCache, notifier league.ChangeNotifier, local func(), logger *slog.Logger) *OnWeekClosedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnWeekClosedHandler{
		cache:    cache,
		notifier: notifier,
		local:    local,
		timeout:  5 * time.Second,
		logger:   logger.With("handler", "on_week_closed"),
	}
}

// Handle реализует shared.EventHandler. Читает payload, а не конкретный тип:
// событие могло прийти из другого процесса через Redis.
func (h *OnWeekClosedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventWeekClosed {
		h.logger.Warn("unexpected event", "event_type", string(event.EventType()))
		return nil
	}
	payload := event.Payload()
	weekRaw, _ := payload["week_start"].(string)
	nextRaw, _ := payload["next_week_start"].(string)

	h.logger.Info("week closed",
		"run_id", payload["run_id"],
		"week_start", weekRaw,
		"cohorts_applied", payload["cohorts_applied"],
		"cohorts_failed", payload["cohorts_failed"],
	)

	week, err := timeutil.ParseDate(weekRaw)
	if err != nil {
		return fmt.Errorf("week closed: %w", err)
	}
	next, err := timeutil.ParseDate(nextRaw)
	if err != nil {
		return fmt.Errorf("week closed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	// Ошибки кэша не фатальны: таблица всё равно пересчитается по опросу.
	if h.cache != nil {
		for _, w := range []timeutil.Date{week, next} {
			if err := h.cache.InvalidateWeek(ctx, w); err != nil {
				h.logger.Warn("board invalidation failed", "week_start", w.String(), "error", err)
			}
		}
	}
	if h.notifier != nil {
		if err := h.notifier.NotifyChanged(ctx, next, "week_closed"); err != nil {
			h.logger.Warn("change notification failed", "error", err)
		}
	}
	if h.local != nil {
		h.local()
	}
	return nil
}
