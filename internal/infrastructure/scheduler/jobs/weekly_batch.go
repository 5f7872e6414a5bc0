// Package jobs contains the scheduled jobs of the league worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alem-hub/focus-league/internal/application/command"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/internal/infrastructure/persistence/redis"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY BATCH JOB
// ══════════════════════════════════════════════════════════════════════════════

// BatchRunner closes a league week.
type BatchRunner interface {
	Handle(ctx context.Context, cmd command.RunWeeklyBatchCommand) (*command.RunWeeklyBatchResult, error)
}

// Locker takes a cross-process lock. Lock returns redis.ErrLockHeld when
// another holder owns the resource.
type Locker interface {
	Lock(ctx context.Context, resource string, ttl time.Duration) (func(context.Context) error, error)
}

// WeeklyBatchConfig configures the job.
type WeeklyBatchConfig struct {
	// LockResource names the lock shared by every process that may run the batch.
	LockResource string

	// LockTTL must outlive the slowest run.
	LockTTL time.Duration
}

// DefaultWeeklyBatchConfig returns sensible defaults.
func DefaultWeeklyBatchConfig() WeeklyBatchConfig {
	return WeeklyBatchConfig{
		LockResource: "league:weekly_batch",
		LockTTL:      30 * time.Minute,
	}
}

// ErrBatchInProgress is returned to manual callers while another run holds the lock.
var ErrBatchInProgress = shared.NewDomainError("league", "RunBatch", shared.ErrConcurrentModification, "another batch run is in progress")

// WeeklyBatchJob closes the previous league week at the weekly boundary.
// Every entry point (schedule, HTTP, CLI) goes through Handle so runs never
// overlap across processes when a Locker is configured.
type WeeklyBatchJob struct {
	runner BatchRunner
	locker Locker // nil = single process, no lock
	config WeeklyBatchConfig
	logger *slog.Logger

	lastResult atomic.Pointer[command.RunWeeklyBatchResult]
}

// NewWeeklyBatchJob creates the job.
func NewWeeklyBatchJob(runner BatchRunner, locker Locker, logger *slog.Logger, config WeeklyBatchConfig) *WeeklyBatchJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.LockResource == "" {
		config.LockResource = DefaultWeeklyBatchConfig().LockResource
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultWeeklyBatchConfig().LockTTL
	}
	return &WeeklyBatchJob{
		runner: runner,
		locker: locker,
		config: config,
		logger: logger.With("job", "weekly_batch"),
	}
}

// Name returns the job name.
func (j *WeeklyBatchJob) Name() string {
	return "weekly_batch"
}

// Description returns a human-readable description.
func (j *WeeklyBatchJob) Description() string {
	return "Closes the last league week: ranks cohorts, moves tiers, grants badges, seats the next week"
}

// Run is the scheduled entry point. A run already in progress elsewhere is
// not an error; cohorts that could not be applied are.
func (j *WeeklyBatchJob) Run(ctx context.Context) error {
	res, err := j.Handle(ctx, command.RunWeeklyBatchCommand{Trigger: "schedule"})
	if errors.Is(err, ErrBatchInProgress) {
		j.logger.Info("skipping: batch already running elsewhere")
		return nil
	}
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("week %s: %d of %d cohorts failed", res.WeekStart, res.Failed, res.Cohorts)
	}
	return nil
}

// Handle runs the batch under the lock.
func (j *WeeklyBatchJob) Handle(ctx context.Context, cmd command.RunWeeklyBatchCommand) (*command.RunWeeklyBatchResult, error) {
	if j.locker != nil {
		release, err := j.locker.Lock(ctx, j.config.LockResource, j.config.LockTTL)
		if errors.Is(err, redis.ErrLockHeld) {
			return nil, ErrBatchInProgress
		}
		if err != nil {
			return nil, shared.WrapError("league", "RunBatch", shared.ErrServiceUnavailable, "batch lock unavailable", err)
		}
		defer func() {
			// The run context may already be done; release on a fresh one.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				j.logger.Warn("failed to release batch lock", "error", err)
			}
		}()
	}

	res, err := j.runner.Handle(ctx, cmd)
	if res != nil {
		j.lastResult.Store(res)
		j.logger.Info("weekly batch finished",
			"trigger", cmd.Trigger,
			"run_id", res.RunID,
			"week_start", res.WeekStart.String(),
			"cohorts", res.Cohorts,
			"cohorts_failed", res.Failed,
			"promoted", res.Promoted,
			"demoted", res.Demoted,
		)
	}
	return res, err
}

// LastResult returns the summary of the most recent run in this process.
func (j *WeeklyBatchJob) LastResult() *command.RunWeeklyBatchResult {
	return j.lastResult.Load()
}
