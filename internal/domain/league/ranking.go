package league

import (
	"sort"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// Score - очки участника когорты за неделю.
type Score struct {
	UserID        shared.UserID
	HonestMinutes int
}

// Standing - очки плюс место в когорте.
type Standing struct {
	UserID        shared.UserID
	HonestMinutes int
	Rank          shared.Rank
}

// RankCohort сортирует по honest minutes по убыванию, при равенстве -
// по user id по возрастанию. Места плотные 1..N без дележа.
func RankCohort(scores []Score) []Standing {
	sorted := make([]Score, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].HonestMinutes != sorted[j].HonestMinutes {
			return sorted[i].HonestMinutes > sorted[j].HonestMinutes
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	out := make([]Standing, len(sorted))
	for i, s := range sorted {
		out[i] = Standing{
			UserID:        s.UserID,
			HonestMinutes: s.HonestMinutes,
			Rank:          shared.Rank(i + 1),
		}
	}
	return out
}
