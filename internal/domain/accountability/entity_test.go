package accountability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-league/internal/domain/metrics"
)

var summary = metrics.Summary{
	UserID:                "b",
	HonestMinutes:         300,
	TotalMinutes:          400,
	Interruptions:         4,
	HonestyRatio:          0.75,
	CommitmentRate:        0.5,
	InterruptionFrequency: 0.6,
}

func TestIsMutual(t *testing.T) {
	active := &Relationship{Status: StatusActive}
	pending := &Relationship{Status: StatusPending}
	revoked := &Relationship{Status: StatusRevoked}

	assert.True(t, IsMutual(active, active))
	assert.False(t, IsMutual(active, pending))
	assert.False(t, IsMutual(pending, active))
	assert.False(t, IsMutual(active, revoked))
	assert.False(t, IsMutual(active, nil))
	assert.False(t, IsMutual(nil, nil))
}

func TestMask_EachFieldIndependent(t *testing.T) {
	flags := []func(*Visibility){
		func(v *Visibility) { v.NetMinutes = true },
		func(v *Visibility) { v.TotalMinutes = true },
		func(v *Visibility) { v.HonestyRatio = true },
		func(v *Visibility) { v.InterruptionFrequency = true },
		func(v *Visibility) { v.CommitmentRate = true },
	}

	for i, set := range flags {
		var v Visibility
		set(&v)
		m := Mask(summary, v, false)

		shown := []bool{
			m.NetMinutes != nil,
			m.TotalMinutes != nil,
			m.HonestyRatio != nil,
			m.InterruptionFrequency != nil,
			m.CommitmentRate != nil,
		}
		for j, s := range shown {
			assert.Equal(t, i == j, s, "flag %d field %d", i, j)
		}
	}
}

func TestMask_Values(t *testing.T) {
	m := Mask(summary, Visibility{NetMinutes: true, HonestyRatio: true}, false)

	require.NotNil(t, m.NetMinutes)
	assert.Equal(t, 300, *m.NetMinutes)
	require.NotNil(t, m.HonestyRatio)
	assert.Equal(t, 0.75, *m.HonestyRatio)
	assert.Nil(t, m.TotalMinutes)
	assert.Nil(t, m.CommitmentRate)
}

func TestMask_CommitmentBypass(t *testing.T) {
	m := Mask(summary, Visibility{}, true)

	require.NotNil(t, m.CommitmentRate)
	assert.Equal(t, 0.5, *m.CommitmentRate)
	assert.Nil(t, m.NetMinutes)
}

func TestFullMetrics(t *testing.T) {
	m := FullMetrics(summary)

	assert.Equal(t, 300, *m.NetMinutes)
	assert.Equal(t, 400, *m.TotalMinutes)
	assert.Equal(t, 0.6, *m.InterruptionFrequency)
}
