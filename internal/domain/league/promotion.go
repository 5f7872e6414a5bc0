package league

import (
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ZONES
// ══════════════════════════════════════════════════════════════════════════════

// Zones - границы зон повышения и понижения для когорты размера Size.
type Zones struct {
	Size    int
	UpMax   int // места 1..UpMax идут вверх
	DownMin int // места DownMin..Size идут вниз
}

// ComputeZones считает зоны:
//
//	N >= 8: вверх 4, вниз 4
//	N <  8: вверх ceil(N/2), вниз floor(N/2)
//
// Зона повышения проверяется первой.
func ComputeZones(n int) Zones {
	var upCount, downCount int
	if n >= 8 {
		upCount, downCount = 4, 4
	} else {
		upCount, downCount = (n+1)/2, n/2
	}
	return Zones{
		Size:    n,
		UpMax:   min(upCount, n),
		DownMin: n - downCount + 1,
	}
}

// MovementFor возвращает движение для места rank.
func (z Zones) MovementFor(rank shared.Rank) Movement {
	r := rank.Int()
	switch {
	case r >= 1 && r <= z.UpMax:
		return MovementUp
	case r >= z.DownMin && r <= z.Size:
		return MovementDown
	default:
		return MovementStay
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultHQCThresholdMinutes - порог honest minutes для HQC тира 10.
const DefaultHQCThresholdMinutes = 600

// Policy - параметры машины состояний.
type Policy struct {
	HQCThresholdMinutes int
}

// DefaultPolicy возвращает политику по умолчанию.
func DefaultPolicy() Policy {
	return Policy{HQCThresholdMinutes: DefaultHQCThresholdMinutes}
}

// Outcome - итог недели для одного участника.
type Outcome struct {
	UserID        shared.UserID
	GroupID       string
	Rank          shared.Rank
	HonestMinutes int
	PrevTier      Tier
	NewTier       Tier
	Movement      Movement
	// HQC заполняется только для участников, начинавших неделю в тире 10.
	HQC *bool
}

// TierChanged - true, если хранимый тир реально меняется.
func (o Outcome) TierChanged() bool {
	return o.PrevTier != o.NewTier
}

// Resolve применяет правила к одному участнику.
func (p Policy) Resolve(groupID string, prev Tier, st Standing, z Zones) Outcome {
	mv := z.MovementFor(st.Rank)
	out := Outcome{
		UserID:        st.UserID,
		GroupID:       groupID,
		Rank:          st.Rank,
		HonestMinutes: st.HonestMinutes,
		PrevTier:      prev,
		NewTier:       prev.Apply(mv),
		Movement:      mv,
	}
	if prev.IsTerminal() {
		qualified := st.HonestMinutes >= p.HQCThresholdMinutes
		out.HQC = &qualified
	}
	return out
}

// ResolveCohort ранжирует когорту и возвращает итоги в порядке мест.
// tiers - тир каждого участника на начало недели.
func (p Policy) ResolveCohort(groupID string, tiers map[shared.UserID]Tier, scores []Score) []Outcome {
	standings := RankCohort(scores)
	zones := ComputeZones(len(standings))
	out := make([]Outcome, 0, len(standings))
	for _, st := range standings {
		prev, ok := tiers[st.UserID]
		if !ok || !prev.IsValid() {
			prev = MinTier
		}
		out = append(out, p.Resolve(groupID, prev, st, zones))
	}
	return out
}
