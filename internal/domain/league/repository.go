package league

import (
	"context"

	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// Repository определяет хранение ростера, рассадки и истории.
// Реализуется в слое инфраструктуры (PostgreSQL, SQLite).
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────
	// Ростер
	// ─────────────────────────────────────────────────────────────────────

	// GetMember возвращает участника или shared.ErrMemberNotFound.
	GetMember(ctx context.Context, user shared.UserID) (*Member, error)

	// GetMembers возвращает найденных участников, отсутствующие пропускаются.
	GetMembers(ctx context.Context, users []shared.UserID) (map[shared.UserID]Member, error)

	// ListActiveMembers возвращает всех активных участников.
	ListActiveMembers(ctx context.Context) ([]Member, error)

	// EnrollMembers добавляет отсутствующих пользователей в тир tier.
	// Существующие строки не трогаются. Возвращает число добавленных.
	EnrollMembers(ctx context.Context, users []shared.UserID, tier Tier) (int, error)

	// SetMembersActive переключает флаг active; неизвестные пользователи
	// пропускаются. Возвращает число изменённых строк.
	SetMembersActive(ctx context.Context, users []shared.UserID, active bool) (int, error)

	// UpdateProfile меняет имя и флаг публичности.
	UpdateProfile(ctx context.Context, user shared.UserID, displayName string, public bool) error

	// ─────────────────────────────────────────────────────────────────────
	// Рассадка по неделям
	// ─────────────────────────────────────────────────────────────────────

	// SeatMemberships вставляет строки рассадки; уже существующие
	// (user, week_start) не меняются. Возвращает число вставленных.
	SeatMemberships(ctx context.Context, rows []Membership) (int, error)

	// UnseatMemberships снимает места на неделе, пока они не ранжированы и
	// не закрыты. Возвращает число снятых.
	UnseatMemberships(ctx context.Context, week timeutil.Date, users []shared.UserID) (int, error)

	// ListMemberships возвращает рассадку недели.
	ListMemberships(ctx context.Context, week timeutil.Date) ([]Membership, error)

	// GetMembership возвращает место пользователя на неделе или shared.ErrNotSeated.
	GetMembership(ctx context.Context, user shared.UserID, week timeutil.Date) (*Membership, error)

	// ListGroup возвращает участников одной группы.
	ListGroup(ctx context.Context, week timeutil.Date, groupID string) ([]Membership, error)

	// ─────────────────────────────────────────────────────────────────────
	// Закрытие недели и история
	// ─────────────────────────────────────────────────────────────────────

	// ApplyCohort в одной транзакции вставляет историю (ON CONFLICT DO NOTHING),
	// обновляет тир/HQC/last_promotion_date только для вставленных строк
	// и проставляет rank_in_group там, где он ещё пуст. Если у участника есть
	// история за более позднюю неделю, тир не меняется (CohortResult.Stale);
	// тир MaxTier не понижается никогда.
	ApplyCohort(ctx context.Context, commit CohortCommit) (CohortResult, error)

	// ListHistory возвращает историю пользователя, свежие недели первыми.
	ListHistory(ctx context.Context, user shared.UserID, page shared.Pagination) ([]HistoryEntry, error)

	// GetHistoryEntry возвращает запись за неделю или shared.ErrNotFound.
	GetHistoryEntry(ctx context.Context, user shared.UserID, week timeutil.Date) (*HistoryEntry, error)

	// ListClosedUsers возвращает пользователей, у которых есть история за неделю.
	ListClosedUsers(ctx context.Context, week timeutil.Date) ([]shared.UserID, error)
}
