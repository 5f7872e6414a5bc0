package query

import (
	"context"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/badge"
	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/internal/domain/streak"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER RECORDS QUERIES
// История лиги, бейджи и стрик пользователя. Только чтение: история и
// бейджи пишутся исключительно недельным батчем.
// ══════════════════════════════════════════════════════════════════════════════

func validateUser(op string, user shared.UserID) error {
	if !user.IsValid() {
		return shared.ValidationError("league", op, "user id is missing or malformed")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// History
// ─────────────────────────────────────────────────────────────────────────────

// GetHistoryQuery - страница истории, новые недели первыми.
type GetHistoryQuery struct {
	UserID shared.UserID
	Page   shared.Pagination
}

// HistoryDTO - запись истории для API.
type HistoryDTO struct {
	WeekStart     timeutil.Date `json:"weekStart"`
	PrevTier      int           `json:"prevTier"`
	NewTier       int           `json:"newTier"`
	TierName      string        `json:"tierName"`
	GroupID       string        `json:"groupId"`
	RankInGroup   int           `json:"rankInGroup"`
	HonestMinutes int           `json:"honestMinutes"`
	Movement      string        `json:"movement"`
	HQCStatus     *bool         `json:"hqcStatus"`
	RecordedAt    time.Time     `json:"recordedAt"`
}

// GetHistoryResult - результат.
type GetHistoryResult struct {
	OK      bool         `json:"ok"`
	UserID  string       `json:"userId"`
	Page    int          `json:"page"`
	Entries []HistoryDTO `json:"entries"`
}

// GetHistoryHandler обрабатывает запрос истории.
type GetHistoryHandler struct {
	leagueRepo league.Repository
}

// NewGetHistoryHandler создаёт обработчик.
func NewGetHistoryHandler(leagueRepo league.Repository) *GetHistoryHandler {
	return &GetHistoryHandler{leagueRepo: leagueRepo}
}

// Handle возвращает страницу истории.
func (h *GetHistoryHandler) Handle(ctx context.Context, q GetHistoryQuery) (*GetHistoryResult, error) {
	if err := validateUser("History", q.UserID); err != nil {
		return nil, err
	}
	page := shared.NewPagination(q.Page.Page, q.Page.PageSize)

	rows, err := h.leagueRepo.ListHistory(ctx, q.UserID, page)
	if err != nil {
		return nil, shared.ComputeError("league", "History", err)
	}

	res := &GetHistoryResult{
		OK:      true,
		UserID:  q.UserID.String(),
		Page:    page.Page,
		Entries: make([]HistoryDTO, len(rows)),
	}
	for i, r := range rows {
		res.Entries[i] = HistoryDTO{
			WeekStart:     r.WeekStart,
			PrevTier:      r.PrevTier.Int(),
			NewTier:       r.NewTier.Int(),
			TierName:      r.NewTier.Name(),
			GroupID:       r.GroupID,
			RankInGroup:   r.Rank.Int(),
			HonestMinutes: r.HonestMinutes,
			Movement:      r.Movement.String(),
			HQCStatus:     r.HQCStatus,
			RecordedAt:    r.RecordedAt,
		}
	}
	return res, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Badges
// ─────────────────────────────────────────────────────────────────────────────

// GetBadgesQuery - бейджи пользователя в порядке выдачи.
type GetBadgesQuery struct {
	UserID shared.UserID
}

// BadgeDTO - выданный бейдж.
type BadgeDTO struct {
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	GrantedAt   time.Time    `json:"grantedAt"`
	Reason      badge.Reason `json:"reason"`
}

// GetBadgesResult - результат.
type GetBadgesResult struct {
	OK     bool       `json:"ok"`
	UserID string     `json:"userId"`
	Badges []BadgeDTO `json:"badges"`
}

// GetBadgesHandler обрабатывает запрос бейджей.
type GetBadgesHandler struct {
	badges badge.Repository
}

// NewGetBadgesHandler создаёт обработчик.
func NewGetBadgesHandler(badges badge.Repository) *GetBadgesHandler {
	return &GetBadgesHandler{badges: badges}
}

// Handle возвращает бейджи.
func (h *GetBadgesHandler) Handle(ctx context.Context, q GetBadgesQuery) (*GetBadgesResult, error) {
	if err := validateUser("Badges", q.UserID); err != nil {
		return nil, err
	}
	rows, err := h.badges.ListByUser(ctx, q.UserID)
	if err != nil {
		return nil, shared.ComputeError("badge", "List", err)
	}

	res := &GetBadgesResult{OK: true, UserID: q.UserID.String(), Badges: make([]BadgeDTO, len(rows))}
	for i, r := range rows {
		res.Badges[i] = BadgeDTO{
			Code:        r.Badge.Code,
			Name:        r.Badge.Name,
			Description: r.Badge.Description,
			GrantedAt:   r.GrantedAt,
			Reason:      r.Reason,
		}
	}
	return res, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Streak
// ─────────────────────────────────────────────────────────────────────────────

// GetStreakQuery - стрик, заканчивающийся текущей неделей.
type GetStreakQuery struct {
	UserID shared.UserID
}

// GetStreakResult - результат.
type GetStreakResult struct {
	OK     bool          `json:"ok"`
	UserID string        `json:"userId"`
	Streak streak.Result `json:"streak"`
}

// GetStreakHandler обрабатывает запрос стрика.
type GetStreakHandler struct {
	evaluator *streak.Evaluator
	resolver  *timeutil.WeekResolver
	now       func() time.Time
}

// NewGetStreakHandler создаёт обработчик.
func NewGetStreakHandler(evaluator *streak.Evaluator, resolver *timeutil.WeekResolver) *GetStreakHandler {
	if resolver == nil {
		resolver = timeutil.DefaultResolver
	}
	return &GetStreakHandler{evaluator: evaluator, resolver: resolver, now: time.Now}
}

// Handle считает стрик. Текущая неделя ещё идёт, поэтому achievedThisWeek
// может стать true позже.
func (h *GetStreakHandler) Handle(ctx context.Context, q GetStreakQuery) (*GetStreakResult, error) {
	if err := validateUser("Streak", q.UserID); err != nil {
		return nil, err
	}
	res, err := h.evaluator.Evaluate(ctx, q.UserID, h.resolver.CurrentWeekStart(h.now()))
	if err != nil {
		return nil, err
	}
	return &GetStreakResult{OK: true, UserID: q.UserID.String(), Streak: res}, nil
}
