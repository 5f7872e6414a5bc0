package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// ChannelLeagueChanged carries ChangeNotice messages.
const ChannelLeagueChanged = "pubsub:league.changed"

// DefaultBoardTTL bounds how stale a board can get if a notice is lost.
const DefaultBoardTTL = 10 * time.Minute

// ChangeNotice is published whenever boards of a week become stale.
type ChangeNotice struct {
	WeekStart string    `json:"week_start"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// BOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// BoardCache stores live group boards as JSON under leaderboard:{week}:{group}.
type BoardCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewBoardCache creates a BoardCache. A non-positive ttl uses DefaultBoardTTL.
func NewBoardCache(cache *Cache, ttl time.Duration) *BoardCache {
	if ttl <= 0 {
		ttl = DefaultBoardTTL
	}
	return &BoardCache{cache: cache, ttl: ttl}
}

var (
	_ league.BoardCache     = (*BoardCache)(nil)
	_ league.ChangeNotifier = (*BoardCache)(nil)
)

// GetBoard returns a cached board. A miss is reported as shared.ErrNotFound.
func (b *BoardCache) GetBoard(ctx context.Context, week timeutil.Date, groupID string) (*league.Board, error) {
	var board league.Board
	err := b.cache.Get(ctx, BoardKey(week.String(), groupID), &board)
	if errors.Is(err, ErrCacheMiss) {
		return nil, shared.WrapError("leaderboard", "GetBoard", shared.ErrNotFound, "board not cached", err)
	}
	if err != nil {
		return nil, shared.WrapError("leaderboard", "GetBoard", shared.ErrServiceUnavailable, "cache read failed", err)
	}
	return &board, nil
}

// SetBoard caches a board.
func (b *BoardCache) SetBoard(ctx context.Context, board *league.Board) error {
	if board == nil {
		return ErrCacheNilValue
	}
	if err := b.cache.Set(ctx, BoardKey(board.WeekStart.String(), board.GroupID), board, b.ttl); err != nil {
		return shared.WrapError("leaderboard", "SetBoard", shared.ErrServiceUnavailable, "cache write failed", err)
	}
	return nil
}

// InvalidateWeek drops every board of week.
func (b *BoardCache) InvalidateWeek(ctx context.Context, week timeutil.Date) error {
	if _, err := b.cache.DeleteMatching(ctx, BoardPattern(week.String())); err != nil {
		return shared.WrapError("leaderboard", "InvalidateWeek", shared.ErrServiceUnavailable, "cache delete failed", err)
	}
	return nil
}

// NotifyChanged publishes a ChangeNotice for other processes.
func (b *BoardCache) NotifyChanged(ctx context.Context, week timeutil.Date, reason string) error {
	return b.cache.Publish(ctx, ChannelLeagueChanged, ChangeNotice{
		WeekStart: week.String(),
		Reason:    reason,
		At:        time.Now().UTC(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION
// ══════════════════════════════════════════════════════════════════════════════

// Changes subscribes to change notices until ctx is done.
// Malformed payloads are logged and dropped.
func (b *BoardCache) Changes(ctx context.Context, logger *slog.Logger) <-chan ChangeNotice {
	if logger == nil {
		logger = slog.Default()
	}
	out := make(chan ChangeNotice, 1)
	sub := b.cache.Subscribe(ctx, ChannelLeagueChanged)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n ChangeNotice
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					logger.Warn("dropping malformed change notice", "error", err)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
