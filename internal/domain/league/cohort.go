package league

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// DefaultMaxCohortSize - верхняя граница размера когорты.
const DefaultMaxCohortSize = 20

// Префиксы групп: основная рассадка недели и досадка опоздавших.
const (
	GroupPrefixRegular = "g"
	GroupPrefixLate    = "x"
)

// Cohort - группа участников одного тира на одну неделю.
type Cohort struct {
	GroupID   string
	WeekStart timeutil.Date
	Tier      Tier
	Members   []shared.UserID
}

// Size возвращает число участников.
func (c Cohort) Size() int {
	return len(c.Members)
}

// FormatGroupID строит идентификатор группы вида "2024-03-11/t03/g00".
func FormatGroupID(week timeutil.Date, tier Tier, prefix string, idx int) string {
	return fmt.Sprintf("%s/t%02d/%s%02d", week.String(), tier.Int(), prefix, idx)
}

// AssignCohorts делит участников тира на сбалансированные группы
// не больше maxSize человек. Порядок - детерминированное перемешивание
// по хешу (неделя, пользователь): одинаковый вход даёт одинаковые группы,
// а от недели к неделе состав групп меняется.
func AssignCohorts(week timeutil.Date, tier Tier, users []shared.UserID, maxSize int, prefix string) []Cohort {
	if len(users) == 0 {
		return nil
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxCohortSize
	}
	if prefix == "" {
		prefix = GroupPrefixRegular
	}

	ordered := shuffleForWeek(week, users)

	n := len(ordered)
	groups := (n + maxSize - 1) / maxSize
	base, extra := n/groups, n%groups

	cohorts := make([]Cohort, 0, groups)
	pos := 0
	for i := 0; i < groups; i++ {
		size := base
		if i < extra {
			size++
		}
		members := make([]shared.UserID, size)
		copy(members, ordered[pos:pos+size])
		pos += size
		cohorts = append(cohorts, Cohort{
			GroupID:   FormatGroupID(week, tier, prefix, i),
			WeekStart: week,
			Tier:      tier,
			Members:   members,
		})
	}
	return cohorts
}

func shuffleForWeek(week timeutil.Date, users []shared.UserID) []shared.UserID {
	type keyed struct {
		id  shared.UserID
		key uint64
	}
	seen := make(map[shared.UserID]bool, len(users))
	items := make([]keyed, 0, len(users))
	salt := week.String() + "|"
	for _, u := range users {
		if seen[u] {
			continue
		}
		seen[u] = true
		h := fnv.New64a()
		_, _ = h.Write([]byte(salt + u.String()))
		items = append(items, keyed{id: u, key: h.Sum64()})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].key != items[j].key {
			return items[i].key < items[j].key
		}
		return items[i].id < items[j].id
	})
	out := make([]shared.UserID, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}
