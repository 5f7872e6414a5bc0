// Package league содержит доменную модель недельной лиги:
// тиры, когорты, ранжирование и машину состояний повышения/понижения.
// Пакет чистый: без хранилища, без часов, без логирования.
package league

import (
	"fmt"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TIER
// ══════════════════════════════════════════════════════════════════════════════

// Tier - уровень лиги от 1 (нижний) до 10 (терминальный, "Honor").
type Tier int

const (
	// MinTier - стартовый тир для новых участников.
	MinTier Tier = 1
	// MaxTier - терминальный тир: из него не понижают.
	MaxTier Tier = 10
)

var tierNames = [...]string{
	"",
	"Bronze",
	"Silver",
	"Gold",
	"Sapphire",
	"Ruby",
	"Emerald",
	"Amethyst",
	"Pearl",
	"Obsidian",
	"Honor",
}

// NewTier создаёт тир с проверкой диапазона.
func NewTier(v int) (Tier, error) {
	t := Tier(v)
	if !t.IsValid() {
		return 0, shared.ErrInvalidTier
	}
	return t, nil
}

// IsValid проверяет диапазон 1..10.
func (t Tier) IsValid() bool {
	return t >= MinTier && t <= MaxTier
}

// IsTerminal - true для тира 10.
func (t Tier) IsTerminal() bool {
	return t == MaxTier
}

// Name возвращает отображаемое имя тира.
func (t Tier) Name() string {
	if !t.IsValid() {
		return fmt.Sprintf("Tier %d", int(t))
	}
	return tierNames[t]
}

// Int возвращает числовое значение.
func (t Tier) Int() int {
	return int(t)
}

// Apply возвращает тир после движения m.
// Тир 10 поглощающий: любое движение оставляет его на месте.
func (t Tier) Apply(m Movement) Tier {
	if t.IsTerminal() {
		return t
	}
	switch m {
	case MovementUp:
		return min(t+1, MaxTier)
	case MovementDown:
		return max(t-1, MinTier)
	default:
		return t
	}
}

// TierInfo - описание тира для справочника.
type TierInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// AllTiers возвращает справочник всех тиров.
func AllTiers() []TierInfo {
	out := make([]TierInfo, 0, int(MaxTier))
	for t := MinTier; t <= MaxTier; t++ {
		out = append(out, TierInfo{ID: t.Int(), Name: t.Name()})
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// MOVEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Movement - результат недели для участника.
type Movement string

const (
	MovementUp   Movement = "up"
	MovementDown Movement = "down"
	MovementStay Movement = "stay"
)

// IsValid проверяет значение.
func (m Movement) IsValid() bool {
	switch m {
	case MovementUp, MovementDown, MovementStay:
		return true
	}
	return false
}

// String возвращает строковое представление.
func (m Movement) String() string {
	return string(m)
}
