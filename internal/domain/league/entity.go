package league

import (
	"time"

	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// Member - строка ростера лиги с текущим тиром.
type Member struct {
	UserID            shared.UserID
	DisplayName       string
	PublicName        bool // показывать имя в лидерборде вместо маски
	Tier              Tier
	LastPromotionDate timeutil.Date // нулевая дата - тир ни разу не менялся
	HQCStatus         bool
	Active            bool
	JoinedAt          time.Time
}

// Name возвращает имя для отображения, user id если имя не задано.
func (m Member) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.UserID.String()
}

// Membership - место участника в группе на конкретную неделю.
// Группа пишется при рассадке и больше не меняется,
// Rank пишется один раз при закрытии недели.
type Membership struct {
	UserID    shared.UserID
	WeekStart timeutil.Date
	Tier      Tier
	GroupID   string
	Rank      shared.Rank // 0 пока неделя не закрыта
}

// HistoryEntry - неизменяемая запись об итоге недели.
type HistoryEntry struct {
	UserID        shared.UserID
	WeekStart     timeutil.Date
	PrevTier      Tier
	NewTier       Tier
	GroupID       string
	Rank          shared.Rank
	HonestMinutes int
	Movement      Movement
	HQCStatus     *bool
	RecordedAt    time.Time
}

// HistoryFromOutcome строит запись истории из итога.
func HistoryFromOutcome(week timeutil.Date, o Outcome, at time.Time) HistoryEntry {
	return HistoryEntry{
		UserID:        o.UserID,
		WeekStart:     week,
		PrevTier:      o.PrevTier,
		NewTier:       o.NewTier,
		GroupID:       o.GroupID,
		Rank:          o.Rank,
		HonestMinutes: o.HonestMinutes,
		Movement:      o.Movement,
		HQCStatus:     o.HQC,
		RecordedAt:    at,
	}
}

// CohortCommit - всё, что атомарно записывается при закрытии одной когорты.
type CohortCommit struct {
	WeekStart     timeutil.Date
	NextWeekStart timeutil.Date // дата для last_promotion_date
	GroupID       string
	Outcomes      []Outcome
	RecordedAt    time.Time
}

// CohortResult - что реально изменилось при применении когорты.
type CohortResult struct {
	Applied []Outcome       // история вставлена, тир обновлён
	Skipped []shared.UserID // история уже была: повторный запуск
	// Stale - история вставлена, но тир не тронут: у участника уже закрыта
	// более поздняя неделя. Входят и в Applied.
	Stale []shared.UserID
}

// IsStale сообщает, оставил ли коммит тир пользователя как был.
func (r CohortResult) IsStale(user shared.UserID) bool {
	for _, u := range r.Stale {
		if u == user {
			return true
		}
	}
	return false
}
