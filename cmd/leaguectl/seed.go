package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// Fixture is the YAML document accepted by `leaguectl seed`.
type Fixture struct {
	Members  []FixtureMember  `yaml:"members"`
	Goals    []FixtureGoal    `yaml:"goals"`
	Sessions []FixtureSession `yaml:"sessions"`
}

// FixtureMember enrolls a user. Tier 0 means the bottom tier.
type FixtureMember struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Public bool   `yaml:"public"`
	Tier   int    `yaml:"tier"`
}

type FixtureGoal struct {
	User        string  `yaml:"user"`
	Goal        string  `yaml:"goal"`
	WeeklyHours float64 `yaml:"weekly_hours"`
	Core        bool    `yaml:"core"`
}

// FixtureSession is a focus block. An empty ID gets a random one, so
// seeding the same file twice duplicates id-less sessions.
type FixtureSession struct {
	ID            string    `yaml:"id"`
	User          string    `yaml:"user"`
	Goal          string    `yaml:"goal"`
	Start         time.Time `yaml:"start"`
	Minutes       int       `yaml:"minutes"`
	Honest        bool      `yaml:"honest"`
	Interruptions int       `yaml:"interruptions"`
}

// SeedStats reports what Apply wrote.
type SeedStats struct {
	Members  int
	Enrolled int
	Goals    int
	Sessions int
}

func loadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return parseFixture(data)
}

func parseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Fixture) validate() error {
	for i, m := range f.Members {
		if _, err := shared.NewUserID(m.ID); err != nil {
			return fmt.Errorf("members[%d]: %w", i, err)
		}
		if m.Tier != 0 && !league.Tier(m.Tier).IsValid() {
			return fmt.Errorf("members[%d]: tier %d out of range", i, m.Tier)
		}
	}
	for i, g := range f.Goals {
		if _, err := shared.NewUserID(g.User); err != nil {
			return fmt.Errorf("goals[%d]: %w", i, err)
		}
		if g.Goal == "" {
			return fmt.Errorf("goals[%d]: goal is required", i)
		}
	}
	for i, s := range f.Sessions {
		if err := s.toSession().Validate(); err != nil {
			return fmt.Errorf("sessions[%d]: %w", i, err)
		}
	}
	return nil
}

func (s FixtureSession) toSession() session.FocusSession {
	return session.FocusSession{
		ID:                s.ID,
		UserID:            shared.UserID(s.User),
		GoalID:            shared.GoalID(s.Goal),
		StartTime:         s.Start,
		DurationMinutes:   s.Minutes,
		Honest:            s.Honest,
		InterruptionCount: s.Interruptions,
	}
}

// Apply enrolls members tier by tier, then writes goals and sessions.
// Members that already exist keep their tier; only the profile is updated.
func (f *Fixture) Apply(ctx context.Context, leagues league.Repository, sessions session.Writer) (SeedStats, error) {
	var stats SeedStats

	byTier := make(map[league.Tier][]shared.UserID)
	for _, m := range f.Members {
		tier := league.Tier(m.Tier)
		if tier == 0 {
			tier = league.MinTier
		}
		byTier[tier] = append(byTier[tier], shared.UserID(m.ID))
	}
	tiers := make([]league.Tier, 0, len(byTier))
	for t := range byTier {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })

	for _, t := range tiers {
		n, err := leagues.EnrollMembers(ctx, byTier[t], t)
		if err != nil {
			return stats, fmt.Errorf("enroll tier %d: %w", t, err)
		}
		stats.Enrolled += n
	}
	for _, m := range f.Members {
		if m.Name != "" || m.Public {
			if err := leagues.UpdateProfile(ctx, shared.UserID(m.ID), m.Name, m.Public); err != nil {
				return stats, fmt.Errorf("profile %s: %w", m.ID, err)
			}
		}
		stats.Members++
	}

	for _, g := range f.Goals {
		err := sessions.SaveGoal(ctx, session.GoalCommitment{
			UserID:            shared.UserID(g.User),
			GoalID:            shared.GoalID(g.Goal),
			WeeklyHoursTarget: g.WeeklyHours,
			IsCore:            g.Core,
		})
		if err != nil {
			return stats, fmt.Errorf("goal %s/%s: %w", g.User, g.Goal, err)
		}
		stats.Goals++
	}

	for _, s := range f.Sessions {
		fs := s.toSession()
		if fs.ID == "" {
			fs.ID = uuid.NewString()
		}
		if err := sessions.SaveSession(ctx, fs); err != nil {
			return stats, fmt.Errorf("session %s: %w", fs.ID, err)
		}
		stats.Sessions++
	}
	return stats, nil
}
