package shared

import "time"

// EventType - имя события, одинаковое в шине процесса и в канале Redis.
type EventType string

const (
	EventWeekClosed   EventType = "league.week_closed"
	EventTierChanged  EventType = "league.tier_changed"
	EventCohortFailed EventType = "league.cohort_failed"

	EventLeaderboardInvalidated EventType = "leaderboard.invalidated"

	EventBadgeGranted EventType = "badge.granted"

	EventRelationshipChanged EventType = "accountability.relationship_changed"
)

// Event - доменное событие. Payload должен содержать все поля события:
// в другой процесс уходит только он.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]any
}

// BaseEvent закрывает первые три метода Event; конкретное событие
// встраивает его и добавляет Payload.
type BaseEvent struct {
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	Aggregate string    `json:"aggregate_id"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.At }
func (e BaseEvent) AggregateID() string   { return e.Aggregate }

func newBase(t EventType, aggregateID string) BaseEvent {
	return BaseEvent{Type: t, At: time.Now().UTC(), Aggregate: aggregateID}
}

// ═══════════════════════════════════════════════════════════════════════════
// Лига
// ═══════════════════════════════════════════════════════════════════════════

// WeekClosedEvent - прогон закрытия недели завершён, в том числе частично.
type WeekClosedEvent struct {
	BaseEvent
	RunID          string `json:"run_id"`
	WeekStart      string `json:"week_start"`
	NextWeekStart  string `json:"next_week_start"`
	CohortsApplied int    `json:"cohorts_applied"`
	CohortsFailed  int    `json:"cohorts_failed"`
	MembersMoved   int    `json:"members_moved"`
}

func (e WeekClosedEvent) Payload() map[string]any {
	return map[string]any{
		"run_id":          e.RunID,
		"week_start":      e.WeekStart,
		"next_week_start": e.NextWeekStart,
		"cohorts_applied": e.CohortsApplied,
		"cohorts_failed":  e.CohortsFailed,
		"members_moved":   e.MembersMoved,
	}
}

func NewWeekClosedEvent(runID, weekStart, nextWeekStart string, applied, failed, moved int) WeekClosedEvent {
	return WeekClosedEvent{
		BaseEvent:      newBase(EventWeekClosed, weekStart),
		RunID:          runID,
		WeekStart:      weekStart,
		NextWeekStart:  nextWeekStart,
		CohortsApplied: applied,
		CohortsFailed:  failed,
		MembersMoved:   moved,
	}
}

// TierChangedEvent - сохранённый тир участника действительно изменился.
type TierChangedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	WeekStart string `json:"week_start"`
	PrevTier  int    `json:"prev_tier"`
	NewTier   int    `json:"new_tier"`
	Movement  string `json:"movement"`
}

func (e TierChangedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":    e.UserID,
		"week_start": e.WeekStart,
		"prev_tier":  e.PrevTier,
		"new_tier":   e.NewTier,
		"movement":   e.Movement,
	}
}

func NewTierChangedEvent(userID, weekStart string, prevTier, newTier int, movement string) TierChangedEvent {
	return TierChangedEvent{
		BaseEvent: newBase(EventTierChanged, userID),
		UserID:    userID,
		WeekStart: weekStart,
		PrevTier:  prevTier,
		NewTier:   newTier,
		Movement:  movement,
	}
}

// CohortFailedEvent - когорта исчерпала попытки и осталась незакрытой.
type CohortFailedEvent struct {
	BaseEvent
	WeekStart string `json:"week_start"`
	GroupID   string `json:"group_id"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason"`
}

func (e CohortFailedEvent) Payload() map[string]any {
	return map[string]any{
		"week_start": e.WeekStart,
		"group_id":   e.GroupID,
		"attempts":   e.Attempts,
		"reason":     e.Reason,
	}
}

func NewCohortFailedEvent(weekStart, groupID string, attempts int, reason string) CohortFailedEvent {
	return CohortFailedEvent{
		BaseEvent: newBase(EventCohortFailed, groupID),
		WeekStart: weekStart,
		GroupID:   groupID,
		Attempts:  attempts,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Таблицы
// ═══════════════════════════════════════════════════════════════════════════

// LeaderboardInvalidatedEvent просит пересчитать живые таблицы.
// Пустой GroupID - все таблицы недели.
type LeaderboardInvalidatedEvent struct {
	BaseEvent
	WeekStart string `json:"week_start"`
	GroupID   string `json:"group_id,omitempty"`
	Reason    string `json:"reason"`
}

func (e LeaderboardInvalidatedEvent) Payload() map[string]any {
	return map[string]any{
		"week_start": e.WeekStart,
		"group_id":   e.GroupID,
		"reason":     e.Reason,
	}
}

func NewLeaderboardInvalidatedEvent(weekStart, groupID, reason string) LeaderboardInvalidatedEvent {
	return LeaderboardInvalidatedEvent{
		BaseEvent: newBase(EventLeaderboardInvalidated, weekStart),
		WeekStart: weekStart,
		GroupID:   groupID,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Значки
// ═══════════════════════════════════════════════════════════════════════════

// BadgeGrantedEvent - только для впервые выданного значка.
type BadgeGrantedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	BadgeCode string `json:"badge_code"`
	WeekStart string `json:"week_start"`
}

func (e BadgeGrantedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":    e.UserID,
		"badge_code": e.BadgeCode,
		"week_start": e.WeekStart,
	}
}

func NewBadgeGrantedEvent(userID, badgeCode, weekStart string) BadgeGrantedEvent {
	return BadgeGrantedEvent{
		BaseEvent: newBase(EventBadgeGranted, userID),
		UserID:    userID,
		BadgeCode: badgeCode,
		WeekStart: weekStart,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Партнёры
// ═══════════════════════════════════════════════════════════════════════════

// RelationshipChangedEvent - приглашение, принятие, отзыв или смена видимости.
type RelationshipChangedEvent struct {
	BaseEvent
	OwnerID   string `json:"owner_id"`
	PartnerID string `json:"partner_id"`
	Status    string `json:"status"`
	Action    string `json:"action"`
}

func (e RelationshipChangedEvent) Payload() map[string]any {
	return map[string]any{
		"owner_id":   e.OwnerID,
		"partner_id": e.PartnerID,
		"status":     e.Status,
		"action":     e.Action,
	}
}

func NewRelationshipChangedEvent(ownerID, partnerID, status, action string) RelationshipChangedEvent {
	return RelationshipChangedEvent{
		BaseEvent: newBase(EventRelationshipChanged, ownerID),
		OwnerID:   ownerID,
		PartnerID: partnerID,
		Status:    status,
		Action:    action,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Шина
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler обрабатывает одно событие. Ошибка логируется шиной и не
// останавливает остальных подписчиков.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus - шина событий: в памяти или поверх Redis pub/sub.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
