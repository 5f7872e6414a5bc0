package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// Recomputer rebuilds every board of the current week into the cache.
type Recomputer interface {
	RefreshWeek(ctx context.Context) (timeutil.Date, int, error)
}

// RefreshStats describes the last refresh.
type RefreshStats struct {
	WeekStart   timeutil.Date
	Groups      int
	CompletedAt time.Time
	Duration    time.Duration
}

// RefreshLeaderboardJob warms the shared board cache from the worker and
// tells API processes to push fresh boards to their clients.
type RefreshLeaderboardJob struct {
	recompute Recomputer
	notifier  league.ChangeNotifier // nil = no cross-process notice
	logger    *slog.Logger

	last atomic.Pointer[RefreshStats]
}

// NewRefreshLeaderboardJob creates the job.
func NewRefreshLeaderboardJob(recompute Recomputer, notifier league.ChangeNotifier, logger *slog.Logger) *RefreshLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshLeaderboardJob{
		recompute: recompute,
		notifier:  notifier,
		logger:    logger.With("job", "refresh_leaderboard"),
	}
}

// Name returns the job name.
func (j *RefreshLeaderboardJob) Name() string {
	return "refresh_leaderboard"
}

// Description returns a human-readable description.
func (j *RefreshLeaderboardJob) Description() string {
	return "Recomputes the live boards of the current week into the shared cache"
}

// Run executes one refresh.
func (j *RefreshLeaderboardJob) Run(ctx context.Context) error {
	start := time.Now()
	week, groups, err := j.recompute.RefreshWeek(ctx)
	if err != nil {
		return err
	}

	stats := &RefreshStats{
		WeekStart:   week,
		Groups:      groups,
		CompletedAt: time.Now(),
		Duration:    time.Since(start),
	}
	j.last.Store(stats)

	if j.notifier != nil && groups > 0 {
		if err := j.notifier.NotifyChanged(ctx, week, "refresh"); err != nil {
			j.logger.Warn("change notice failed", "error", err)
		}
	}

	j.logger.Debug("boards refreshed", "week_start", week.String(), "groups", groups, "duration", stats.Duration.String())
	return nil
}

// LastStats returns the last successful refresh, or nil.
func (j *RefreshLeaderboardJob) LastStats() *RefreshStats {
	return j.last.Load()
}
