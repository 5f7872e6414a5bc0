// Package accountability models directional partner relationships and the
// per-field masking applied when one partner reads the other's metrics.
package accountability

import (
	"time"

	"github.com/alem-hub/focus-league/internal/domain/metrics"
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// Status is the lifecycle state of one direction of a partnership.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// IsValid checks the value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRevoked:
		return true
	}
	return false
}

// Visibility lists what the owner of a row lets the partner see.
// A false flag means the field is null in the partner's report.
type Visibility struct {
	NetMinutes            bool `json:"net_minutes"`
	TotalMinutes          bool `json:"total_minutes"`
	HonestyRatio          bool `json:"honesty_ratio"`
	InterruptionFrequency bool `json:"interruption_frequency"`
	CommitmentRate        bool `json:"commitment_rate"`
}

// DefaultVisibility shares minutes only.
func DefaultVisibility() Visibility {
	return Visibility{NetMinutes: true, TotalMinutes: true}
}

// Relationship is the row "owner shares with partner".
// Disclosure needs both rows (A->B and B->A) to be active.
type Relationship struct {
	OwnerID         shared.UserID
	PartnerID       shared.UserID
	Status          Status
	Visibility      Visibility
	InviteTokenHash string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsActive reports whether the row is active.
func (r *Relationship) IsActive() bool {
	return r != nil && r.Status == StatusActive
}

// IsMutual reports whether both directions are active.
func IsMutual(ab, ba *Relationship) bool {
	return ab.IsActive() && ba.IsActive()
}

// ═══════════════════════════════════════════════════════════════════════════
// Masking
// ═══════════════════════════════════════════════════════════════════════════

// Metrics is the wire shape of one side of a partner report.
// Nil pointers are rendered as JSON null.
type Metrics struct {
	NetMinutes            *int     `json:"netMinutes"`
	TotalMinutes          *int     `json:"totalMinutes"`
	HonestyRatio          *float64 `json:"honestyRatio"`
	InterruptionFrequency *float64 `json:"interruptionFrequency"`
	CommitmentRate        *float64 `json:"commitmentRate"`
}

// FullMetrics exposes every field.
func FullMetrics(s metrics.Summary) Metrics {
	return Metrics{
		NetMinutes:            ptr(s.HonestMinutes),
		TotalMinutes:          ptr(s.TotalMinutes),
		HonestyRatio:          ptr(s.HonestyRatio),
		InterruptionFrequency: ptr(s.InterruptionFrequency),
		CommitmentRate:        ptr(s.CommitmentRate),
	}
}

// Mask exposes only the fields v allows. With bypassCommitment the
// commitment rate is shown regardless of its flag.
func Mask(s metrics.Summary, v Visibility, bypassCommitment bool) Metrics {
	var m Metrics
	if v.NetMinutes {
		m.NetMinutes = ptr(s.HonestMinutes)
	}
	if v.TotalMinutes {
		m.TotalMinutes = ptr(s.TotalMinutes)
	}
	if v.HonestyRatio {
		m.HonestyRatio = ptr(s.HonestyRatio)
	}
	if v.InterruptionFrequency {
		m.InterruptionFrequency = ptr(s.InterruptionFrequency)
	}
	if v.CommitmentRate || bypassCommitment {
		m.CommitmentRate = ptr(s.CommitmentRate)
	}
	return m
}

func ptr[T any](v T) *T {
	return &v
}
