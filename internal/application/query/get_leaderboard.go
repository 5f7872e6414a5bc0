package query

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/metrics"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/circuitbreaker"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Живая таблица группы зрителя на текущей неделе. Состав группы зафиксирован
// при рассадке, пересчитываются только очки. Чужие строки показываются под
// недельной маской, своя строка и открытые имена - как есть.
// ══════════════════════════════════════════════════════════════════════════════

// Masker выдаёт недельные псевдонимы.
type Masker interface {
	MaskedID(user shared.UserID, week timeutil.Date) string
	MyMaskedID(viewer shared.UserID, week timeutil.Date) string
}

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// ViewerID - кто смотрит таблицу.
	ViewerID shared.UserID
}

// Validate проверяет корректность параметров запроса.
func (q GetLeaderboardQuery) Validate() error {
	if !q.ViewerID.IsValid() {
		return shared.ValidationError("leaderboard", "Get", "user id is missing or malformed")
	}
	return nil
}

// LeaderboardRow - строка таблицы в том виде, в котором её видит зритель.
type LeaderboardRow struct {
	DisplayNameOrMaskedID string `json:"displayNameOrMaskedId"`
	WeeklyHonestMinutes   int    `json:"weeklyHonestMinutes"`
	RankInGroup           int    `json:"rankInGroup"`
	IsMe                  bool   `json:"isMe"`
	Zone                  string `json:"zone"`
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	OK         bool             `json:"ok"`
	WeekStart  timeutil.Date    `json:"weekStart"`
	GroupID    string           `json:"groupId"`
	Tier       int              `json:"tier"`
	TierName   string           `json:"tierName"`
	MyMaskedID string           `json:"myMaskedId"`
	Rows       []LeaderboardRow `json:"rows"`
	ComputedAt time.Time        `json:"computedAt"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardConfig - необязательные зависимости обработчика.
type LeaderboardConfig struct {
	// Cache - кэш таблиц; nil - всегда считать из БД.
	Cache league.BoardCache

	// Breaker защищает кэш; при открытом breaker таблица считается из БД.
	Breaker *circuitbreaker.CircuitBreaker

	// PublicNames решает, можно ли показать открытое имя участника.
	// nil - открытые имена запрещены.
	PublicNames func(user shared.UserID) bool

	Logger *slog.Logger
}

// GetLeaderboardHandler обрабатывает запрос лидерборда.
type GetLeaderboardHandler struct {
	leagueRepo  league.Repository
	aggregator  *metrics.Aggregator
	masker      Masker
	resolver    *timeutil.WeekResolver
	cache       league.BoardCache
	breaker     *circuitbreaker.CircuitBreaker
	publicNames func(user shared.UserID) bool
	logger      *slog.Logger
	now         func() time.Time
}

// NewGetLeaderboardHandler создаёт обработчик.
func NewGetLeaderboardHandler(
	leagueRepo league.Repository,
	aggregator *metrics.Aggregator,
	masker Masker,
	resolver *timeutil.WeekResolver,
	cfg LeaderboardConfig,
) *GetLeaderboardHandler {
	if resolver == nil {
		resolver = timeutil.DefaultResolver
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GetLeaderboardHandler{
		leagueRepo:  leagueRepo,
		aggregator:  aggregator,
		masker:      masker,
		resolver:    resolver,
		cache:       cfg.Cache,
		breaker:     cfg.Breaker,
		publicNames: cfg.PublicNames,
		logger:      cfg.Logger.With("component", "leaderboard"),
		now:         time.Now,
	}
}

// Handle возвращает таблицу группы зрителя.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	week := h.resolver.CurrentWeekStart(h.now())
	seat, err := h.leagueRepo.GetMembership(ctx, q.ViewerID, week)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrNotSeated
		}
		return nil, shared.ComputeError("leaderboard", "Get", err)
	}

	board, err := h.board(ctx, week, seat.GroupID, seat.Tier)
	if err != nil {
		return nil, err
	}

	res := &GetLeaderboardResult{
		OK:         true,
		WeekStart:  week,
		GroupID:    board.GroupID,
		Tier:       board.Tier.Int(),
		TierName:   board.Tier.Name(),
		MyMaskedID: h.masker.MyMaskedID(q.ViewerID, week),
		Rows:       make([]LeaderboardRow, len(board.Entries)),
		ComputedAt: board.ComputedAt,
	}
	for i, e := range board.Entries {
		me := e.UserID == q.ViewerID
		name := h.masker.MaskedID(e.UserID, week)
		if me || (e.PublicName && h.publicNames != nil && h.publicNames(e.UserID)) {
			name = e.DisplayName
			if name == "" {
				name = e.UserID.String()
			}
		}
		res.Rows[i] = LeaderboardRow{
			DisplayNameOrMaskedID: name,
			WeeklyHonestMinutes:   e.HonestMinutes,
			RankInGroup:           e.Rank.Int(),
			IsMe:                  me,
			Zone:                  e.Zone.String(),
		}
	}
	return res, nil
}

// board берёт таблицу из кэша, а при промахе или недоступном кэше
// считает её из БД и пытается положить обратно.
func (h *GetLeaderboardHandler) board(ctx context.Context, week timeutil.Date, groupID string, tier league.Tier) (*league.Board, error) {
	if h.cache != nil {
		b, err := h.cachedBoard(ctx, week, groupID)
		if err == nil {
			return b, nil
		}
		if !shared.IsNotFound(err) {
			h.logger.Warn("board cache unavailable, computing from storage", "group_id", groupID, "error", err)
		}
	}

	b, err := h.ComputeBoard(ctx, week, groupID, tier)
	if err != nil {
		return nil, err
	}
	h.storeBoard(ctx, b)
	return b, nil
}

func (h *GetLeaderboardHandler) cachedBoard(ctx context.Context, week timeutil.Date, groupID string) (*league.Board, error) {
	if h.breaker == nil {
		return h.cache.GetBoard(ctx, week, groupID)
	}
	return circuitbreaker.ExecuteWithData(ctx, h.breaker, func(ctx context.Context) (*league.Board, error) {
		return h.cache.GetBoard(ctx, week, groupID)
	})
}

func (h *GetLeaderboardHandler) storeBoard(ctx context.Context, b *league.Board) {
	if h.cache == nil {
		return
	}
	set := func(ctx context.Context) error { return h.cache.SetBoard(ctx, b) }
	var err error
	if h.breaker != nil {
		err = h.breaker.Execute(ctx, set)
	} else {
		err = set(ctx)
	}
	if err != nil {
		h.logger.Debug("board not cached", "group_id", b.GroupID, "error", err)
	}
}

// ComputeBoard считает таблицу группы по текущим сессиям недели.
func (h *GetLeaderboardHandler) ComputeBoard(ctx context.Context, week timeutil.Date, groupID string, tier league.Tier) (*league.Board, error) {
	seats, err := h.leagueRepo.ListGroup(ctx, week, groupID)
	if err != nil {
		return nil, shared.ComputeError("leaderboard", "ComputeBoard", err)
	}
	users := make([]shared.UserID, len(seats))
	for i, s := range seats {
		users[i] = s.UserID
	}

	now := h.now()
	from, to := h.resolver.WeekRange(week)
	if now.Before(to) {
		to = now
	}
	summaries, err := h.aggregator.Compute(ctx, users, from, to)
	if err != nil {
		return nil, err
	}
	members, err := h.leagueRepo.GetMembers(ctx, users)
	if err != nil {
		return nil, shared.ComputeError("leaderboard", "ComputeBoard", err)
	}

	scores := make([]league.Score, len(users))
	for i, u := range users {
		scores[i] = league.Score{UserID: u, HonestMinutes: summaries[u].HonestMinutes}
	}
	return league.BuildBoard(week, groupID, tier, scores, members, now.UTC()), nil
}

// RefreshWeek пересчитывает все таблицы текущей недели и кладёт их в кэш.
// Возвращает число пересчитанных групп.
func (h *GetLeaderboardHandler) RefreshWeek(ctx context.Context) (timeutil.Date, int, error) {
	week := h.resolver.CurrentWeekStart(h.now())
	seats, err := h.leagueRepo.ListMemberships(ctx, week)
	if err != nil {
		return week, 0, shared.ComputeError("leaderboard", "Refresh", err)
	}

	tiers := make(map[string]league.Tier)
	for _, s := range seats {
		tiers[s.GroupID] = s.Tier
	}
	groups := make([]string, 0, len(tiers))
	for g := range tiers {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return week, 0, err
		}
		b, err := h.ComputeBoard(ctx, week, g, tiers[g])
		if err != nil {
			return week, 0, err
		}
		h.storeBoard(ctx, b)
	}
	return week, len(groups), nil
}
