package league

import (
	"context"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// Board - живая таблица одной группы на текущей неделе.
// Хранит реальные user id и используется только внутри сервиса:
// маскирование делается при выдаче конкретному зрителю.
type Board struct {
	WeekStart  timeutil.Date `json:"week_start"`
	GroupID    string        `json:"group_id"`
	Tier       Tier          `json:"tier"`
	Entries    []BoardEntry  `json:"entries"`
	ComputedAt time.Time     `json:"computed_at"`
}

// BoardEntry - строка таблицы.
type BoardEntry struct {
	UserID        shared.UserID `json:"user_id"`
	DisplayName   string        `json:"display_name"`
	PublicName    bool          `json:"public_name"`
	HonestMinutes int           `json:"honest_minutes"`
	Rank          shared.Rank   `json:"rank"`
	Zone          Movement      `json:"zone"` // куда участник движется, если неделя закроется сейчас
}

// BuildBoard ранжирует группу так же, как закрытие недели.
func BuildBoard(week timeutil.Date, groupID string, tier Tier, scores []Score, members map[shared.UserID]Member, at time.Time) *Board {
	standings := RankCohort(scores)
	zones := ComputeZones(len(standings))

	b := &Board{
		WeekStart:  week,
		GroupID:    groupID,
		Tier:       tier,
		Entries:    make([]BoardEntry, len(standings)),
		ComputedAt: at,
	}
	for i, st := range standings {
		m := members[st.UserID]
		b.Entries[i] = BoardEntry{
			UserID:        st.UserID,
			DisplayName:   m.DisplayName,
			PublicName:    m.PublicName,
			HonestMinutes: st.HonestMinutes,
			Rank:          st.Rank,
			Zone:          zones.MovementFor(st.Rank),
		}
	}
	return b
}

// Find возвращает строку пользователя.
func (b *Board) Find(user shared.UserID) (BoardEntry, bool) {
	for _, e := range b.Entries {
		if e.UserID == user {
			return e, true
		}
	}
	return BoardEntry{}, false
}

// BoardCache - кэш таблиц групп.
type BoardCache interface {
	// GetBoard возвращает таблицу или ошибку с shared.ErrNotFound при промахе.
	GetBoard(ctx context.Context, week timeutil.Date, groupID string) (*Board, error)

	// SetBoard сохраняет таблицу.
	SetBoard(ctx context.Context, b *Board) error

	// InvalidateWeek удаляет все таблицы недели.
	InvalidateWeek(ctx context.Context, week timeutil.Date) error
}

// ChangeNotifier сообщает другим процессам, что таблицы устарели.
type ChangeNotifier interface {
	NotifyChanged(ctx context.Context, week timeutil.Date, reason string) error
}
