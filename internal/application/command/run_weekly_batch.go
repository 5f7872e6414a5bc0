// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/focus-league/internal/domain/badge"
	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/metrics"
	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/internal/domain/streak"
	"github.com/alem-hub/focus-league/pkg/retry"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN WEEKLY BATCH COMMAND
// Closes one league week: ranks every cohort, applies promotions and
// demotions, grants badges and seats the following week.
// Safe to re-run: every write is keyed by (user, week_start).
// ══════════════════════════════════════════════════════════════════════════════

// RunWeeklyBatchCommand selects the week to close.
type RunWeeklyBatchCommand struct {
	// WeekStart is the Monday of the week to close.
	// Zero means the last fully elapsed week.
	WeekStart timeutil.Date

	// RunID identifies the run in logs and events (generated when empty).
	RunID string

	// Trigger describes who started the run: "schedule", "api", "cli".
	Trigger string
}

// CohortFailure describes a cohort left untouched by the run.
type CohortFailure struct {
	GroupID  string `json:"group_id"`
	Tier     int    `json:"tier"`
	Members  int    `json:"members"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// RunWeeklyBatchResult summarizes a run.
type RunWeeklyBatchResult struct {
	RunID         string          `json:"run_id"`
	WeekStart     timeutil.Date   `json:"week_start"`
	NextWeekStart timeutil.Date   `json:"next_week_start"`
	Enrolled      int             `json:"enrolled"`
	Reactivated   int             `json:"reactivated"`
	Deactivated   int             `json:"deactivated"`
	LateSeated    int             `json:"late_seated"`
	Cohorts       int             `json:"cohorts"`
	Applied       int             `json:"cohorts_applied"`
	Failed        int             `json:"cohorts_failed"`
	MembersClosed int             `json:"members_closed"`
	MembersReused int             `json:"members_already_closed"`
	RosterKept    int             `json:"members_roster_kept"`
	Promoted      int             `json:"promoted"`
	Demoted       int             `json:"demoted"`
	BadgesGranted int             `json:"badges_granted"`
	NextSeated    int             `json:"next_week_seated"`
	Reseated      int             `json:"next_week_reseated"`
	Failures      []CohortFailure `json:"failures,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RunWeeklyBatchConfig contains batch tuning.
type RunWeeklyBatchConfig struct {
	MaxCohortSize  int
	Policy         league.Policy
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	EvaluateBadges bool
	// InactiveAfterWeeks deactivates members with no sessions in that many
	// weeks up to now; 0 keeps everyone active.
	InactiveAfterWeeks int
}

// DefaultRunWeeklyBatchConfig returns default configuration.
func DefaultRunWeeklyBatchConfig() RunWeeklyBatchConfig {
	return RunWeeklyBatchConfig{
		MaxCohortSize:  league.DefaultMaxCohortSize,
		Policy:         league.DefaultPolicy(),
		MaxAttempts:    3,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
		EvaluateBadges: true,

		InactiveAfterWeeks: 4,
	}
}

// RunWeeklyBatchHandler handles RunWeeklyBatchCommand.
type RunWeeklyBatchHandler struct {
	leagueRepo     league.Repository
	sessions       session.Repository
	aggregator     *metrics.Aggregator
	badges         *badge.Engine
	badgeRepo      badge.Repository
	streaks        *streak.Evaluator
	eventPublisher shared.EventPublisher
	resolver       *timeutil.WeekResolver
	logger         *slog.Logger
	config         RunWeeklyBatchConfig

	now func() time.Time
}

// NewRunWeeklyBatchHandler creates a new RunWeeklyBatchHandler.
// badges, badgeRepo and streaks may be nil to disable badge evaluation.
func NewRunWeeklyBatchHandler(
	leagueRepo league.Repository,
	sessions session.Repository,
	aggregator *metrics.Aggregator,
	badges *badge.Engine,
	badgeRepo badge.Repository,
	streaks *streak.Evaluator,
	eventPublisher shared.EventPublisher,
	resolver *timeutil.WeekResolver,
	logger *slog.Logger,
	config RunWeeklyBatchConfig,
) *RunWeeklyBatchHandler {
	def := DefaultRunWeeklyBatchConfig()
	if config.MaxCohortSize <= 0 {
		config.MaxCohortSize = def.MaxCohortSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = def.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = def.RetryMaxDelay
	}
	if resolver == nil {
		resolver = timeutil.DefaultResolver
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RunWeeklyBatchHandler{
		leagueRepo:     leagueRepo,
		sessions:       sessions,
		aggregator:     aggregator,
		badges:         badges,
		badgeRepo:      badgeRepo,
		streaks:        streaks,
		eventPublisher: eventPublisher,
		resolver:       resolver,
		logger:         logger.With("component", "weekly_batch"),
		config:         config,
		now:            time.Now,
	}
}

// ResolveWeek returns the week cmd would close, validated.
func (h *RunWeeklyBatchHandler) ResolveWeek(cmd RunWeeklyBatchCommand) (timeutil.Date, error) {
	now := h.now()
	week := cmd.WeekStart
	if week.IsZero() {
		week = h.resolver.PreviousWeekStart(now)
	}
	if !timeutil.IsWeekStart(week) {
		return timeutil.Date{}, shared.ErrInvalidWeekKey
	}
	if _, end := h.resolver.WeekRange(week); !now.After(end) {
		return timeutil.Date{}, shared.ErrWeekNotClosable
	}
	return week, nil
}

// Handle executes the batch.
func (h *RunWeeklyBatchHandler) Handle(ctx context.Context, cmd RunWeeklyBatchCommand) (*RunWeeklyBatchResult, error) {
	week, err := h.ResolveWeek(cmd)
	if err != nil {
		return nil, err
	}
	if cmd.RunID == "" {
		cmd.RunID = uuid.NewString()
	}

	res := &RunWeeklyBatchResult{
		RunID:         cmd.RunID,
		WeekStart:     week,
		NextWeekStart: week.AddDays(timeutil.DaysPerWeek),
		StartedAt:     h.now().UTC(),
	}
	log := h.logger.With("run_id", cmd.RunID, "week_start", week.String(), "trigger", cmd.Trigger)
	log.Info("weekly batch started")

	from, to := h.resolver.WeekRange(week)

	// Roster: everyone who focused this week takes part.
	users, err := h.sessions.ListActiveUsers(ctx, from, to)
	if err != nil {
		return nil, shared.ComputeError("league", "RunBatch", err)
	}
	if res.Enrolled, err = h.leagueRepo.EnrollMembers(ctx, users, league.MinTier); err != nil {
		return nil, shared.ComputeError("league", "RunBatch", err)
	}

	if res.Reactivated, err = h.leagueRepo.SetMembersActive(ctx, users, true); err != nil {
		return nil, shared.ComputeError("league", "RunBatch", err)
	}

	roster, err := h.leagueRepo.ListActiveMembers(ctx)
	if err != nil {
		return nil, shared.ComputeError("league", "RunBatch", err)
	}
	if res.Deactivated, err = h.deactivateIdle(ctx, week, roster); err != nil {
		return nil, err
	}
	if res.LateSeated, err = h.seatWeek(ctx, week, roster); err != nil {
		return nil, err
	}

	memberships, err := h.leagueRepo.ListMemberships(ctx, week)
	if err != nil {
		return nil, shared.ComputeError("league", "RunBatch", err)
	}
	groups := groupMemberships(memberships)
	res.Cohorts = len(groups)

	retrier := retry.CohortRetrier(h.config.MaxAttempts, h.config.RetryBaseDelay, h.config.RetryMaxDelay, shared.IsRetryable)
	var moved []league.Outcome

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			log.Warn("weekly batch interrupted", "error", err)
			return res, shared.WrapError("league", "RunBatch", shared.ErrTimeout, "batch interrupted", err)
		}

		closed, attempts, err := h.closeCohort(ctx, retrier, week, res.NextWeekStart, from, to, g)
		if err != nil {
			log.Error("cohort failed",
				"group_id", g.id,
				"tier", g.tier.Int(),
				"attempts", attempts,
				"error", err,
			)
			res.Failed++
			res.Failures = append(res.Failures, CohortFailure{
				GroupID:  g.id,
				Tier:     g.tier.Int(),
				Members:  len(g.members),
				Attempts: attempts,
				Error:    err.Error(),
			})
			h.publish(log, shared.NewCohortFailedEvent(week.String(), g.id, attempts, err.Error()))
			continue
		}

		res.Applied++
		res.MembersClosed += len(closed.result.Applied)
		res.MembersReused += len(closed.result.Skipped)
		for _, o := range closed.result.Applied {
			if closed.result.IsStale(o.UserID) {
				res.RosterKept++
				continue
			}
			if o.TierChanged() {
				moved = append(moved, o)
			}
			switch {
			case o.NewTier > o.PrevTier:
				res.Promoted++
			case o.NewTier < o.PrevTier:
				res.Demoted++
			}
			if o.TierChanged() {
				h.publish(log, shared.NewTierChangedEvent(o.UserID.String(), week.String(),
					o.PrevTier.Int(), o.NewTier.Int(), o.Movement.String()))
			}
		}

		if h.config.EvaluateBadges {
			res.BadgesGranted += h.grantBadges(ctx, log, week, closed)
		}
	}

	// Seat the following week with the tiers just written. Members of failed
	// cohorts keep their tier and are seated with it; a later run that closes
	// them moves their seat if the tier changed.
	if res.Reseated, err = h.unseatMoved(ctx, res.NextWeekStart, moved); err != nil {
		return res, err
	}
	roster, err = h.leagueRepo.ListActiveMembers(ctx)
	if err != nil {
		return res, shared.ComputeError("league", "RunBatch", err)
	}
	if res.NextSeated, err = h.seatWeek(ctx, res.NextWeekStart, roster); err != nil {
		return res, err
	}

	res.CompletedAt = h.now().UTC()
	h.publish(log, shared.NewWeekClosedEvent(cmd.RunID, week.String(), res.NextWeekStart.String(),
		res.Applied, res.Failed, res.Promoted+res.Demoted))
	h.publish(log, shared.NewLeaderboardInvalidatedEvent(res.NextWeekStart.String(), "", "week_closed"))

	log.Info("weekly batch completed",
		"cohorts", res.Cohorts,
		"applied", res.Applied,
		"failed", res.Failed,
		"members_closed", res.MembersClosed,
		"members_already_closed", res.MembersReused,
		"members_roster_kept", res.RosterKept,
		"deactivated", res.Deactivated,
		"promoted", res.Promoted,
		"demoted", res.Demoted,
		"badges", res.BadgesGranted,
		"next_week_seated", res.NextSeated,
		"duration", res.CompletedAt.Sub(res.StartedAt).String(),
	)
	return res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COHORTS
// ══════════════════════════════════════════════════════════════════════════════

type cohortGroup struct {
	id      string
	tier    league.Tier
	members []league.Membership
}

// groupMemberships groups seats by group id, ordered by id.
func groupMemberships(rows []league.Membership) []cohortGroup {
	idx := make(map[string]int)
	var groups []cohortGroup
	for _, m := range rows {
		i, ok := idx[m.GroupID]
		if !ok {
			i = len(groups)
			idx[m.GroupID] = i
			groups = append(groups, cohortGroup{id: m.GroupID, tier: m.Tier})
		}
		groups[i].members = append(groups[i].members, m)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].id < groups[j].id })
	return groups
}

type closedCohort struct {
	result    league.CohortResult
	summaries map[shared.UserID]metrics.Summary
}

// closeCohort scores and applies one cohort, retrying transient failures.
// Each attempt recomputes metrics so a retry never reuses a half-read state.
func (h *RunWeeklyBatchHandler) closeCohort(
	ctx context.Context,
	retrier *retry.Retrier,
	week, next timeutil.Date,
	from, to time.Time,
	g cohortGroup,
) (closedCohort, int, error) {
	users := make([]shared.UserID, len(g.members))
	tiers := make(map[shared.UserID]league.Tier, len(g.members))
	for i, m := range g.members {
		users[i] = m.UserID
		tiers[m.UserID] = m.Tier
	}

	var out closedCohort
	attempts, err := retrier.DoCounted(ctx, func(ctx context.Context) error {
		summaries, err := h.aggregator.Compute(ctx, users, from, to)
		if err != nil {
			return err
		}
		scores := make([]league.Score, len(users))
		for i, u := range users {
			scores[i] = league.Score{UserID: u, HonestMinutes: summaries[u].HonestMinutes}
		}

		result, err := h.leagueRepo.ApplyCohort(ctx, league.CohortCommit{
			WeekStart:     week,
			NextWeekStart: next,
			GroupID:       g.id,
			Outcomes:      h.config.Policy.ResolveCohort(g.id, tiers, scores),
			RecordedAt:    h.now().UTC(),
		})
		if err != nil {
			return err
		}
		out = closedCohort{result: result, summaries: summaries}
		return nil
	})
	return out, attempts, err
}

// ══════════════════════════════════════════════════════════════════════════════
// SEATING
// ══════════════════════════════════════════════════════════════════════════════

// seatWeek places every roster member without a seat in week into cohorts of
// their current tier. The first seating of a week uses regular groups; later
// arrivals get late groups numbered after the existing ones.
func (h *RunWeeklyBatchHandler) seatWeek(ctx context.Context, week timeutil.Date, roster []league.Member) (int, error) {
	existing, err := h.leagueRepo.ListMemberships(ctx, week)
	if err != nil {
		return 0, shared.ComputeError("league", "SeatWeek", err)
	}
	seated := make(map[shared.UserID]bool, len(existing))
	lateGroups := make(map[league.Tier]map[string]bool)
	for _, m := range existing {
		seated[m.UserID] = true
		if isLateGroup(m.GroupID) {
			if lateGroups[m.Tier] == nil {
				lateGroups[m.Tier] = make(map[string]bool)
			}
			lateGroups[m.Tier][m.GroupID] = true
		}
	}

	byTier := make(map[league.Tier][]shared.UserID)
	for _, m := range roster {
		if !m.Active || seated[m.UserID] {
			continue
		}
		byTier[m.Tier] = append(byTier[m.Tier], m.UserID)
	}
	if len(byTier) == 0 {
		return 0, nil
	}

	prefix := league.GroupPrefixRegular
	if len(existing) > 0 {
		prefix = league.GroupPrefixLate
	}

	var rows []league.Membership
	for tier, users := range byTier {
		offset := len(lateGroups[tier])
		for i, c := range league.AssignCohorts(week, tier, users, h.config.MaxCohortSize, prefix) {
			groupID := c.GroupID
			if prefix == league.GroupPrefixLate {
				groupID = league.FormatGroupID(week, tier, prefix, offset+i)
			}
			for _, u := range c.Members {
				rows = append(rows, league.Membership{
					UserID:    u,
					WeekStart: week,
					Tier:      tier,
					GroupID:   groupID,
				})
			}
		}
	}

	n, err := h.leagueRepo.SeatMemberships(ctx, rows)
	if err != nil {
		return 0, shared.ComputeError("league", "SeatWeek", err)
	}
	return n, nil
}

// unseatMoved drops week seats that no longer match the member's tier, so
// seatWeek places those members again. Ranked or closed seats stay.
func (h *RunWeeklyBatchHandler) unseatMoved(ctx context.Context, week timeutil.Date, moved []league.Outcome) (int, error) {
	if len(moved) == 0 {
		return 0, nil
	}
	existing, err := h.leagueRepo.ListMemberships(ctx, week)
	if err != nil {
		return 0, shared.ComputeError("league", "SeatWeek", err)
	}
	if len(existing) == 0 {
		return 0, nil
	}
	seatTier := make(map[shared.UserID]league.Tier, len(existing))
	for _, m := range existing {
		seatTier[m.UserID] = m.Tier
	}
	var stale []shared.UserID
	for _, o := range moved {
		if t, ok := seatTier[o.UserID]; ok && t != o.NewTier {
			stale = append(stale, o.UserID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := h.leagueRepo.UnseatMemberships(ctx, week, stale)
	if err != nil {
		return 0, shared.ComputeError("league", "SeatWeek", err)
	}
	return n, nil
}

// deactivateIdle marks roster members inactive when they logged no session
// from the start of the window up to now. The roster slice is updated in place.
func (h *RunWeeklyBatchHandler) deactivateIdle(ctx context.Context, week timeutil.Date, roster []league.Member) (int, error) {
	n := h.config.InactiveAfterWeeks
	if n <= 0 {
		return 0, nil
	}
	from, _ := h.resolver.WeekRange(week.AddDays(-timeutil.DaysPerWeek * (n - 1)))
	recent, err := h.sessions.ListActiveUsers(ctx, from, h.now())
	if err != nil {
		return 0, shared.ComputeError("league", "Deactivate", err)
	}
	seen := make(map[shared.UserID]bool, len(recent))
	for _, u := range recent {
		seen[u] = true
	}
	var idle []shared.UserID
	for i := range roster {
		if roster[i].Active && !seen[roster[i].UserID] {
			idle = append(idle, roster[i].UserID)
			roster[i].Active = false
		}
	}
	if len(idle) == 0 {
		return 0, nil
	}
	changed, err := h.leagueRepo.SetMembersActive(ctx, idle, false)
	if err != nil {
		return 0, shared.ComputeError("league", "Deactivate", err)
	}
	return changed, nil
}

func isLateGroup(groupID string) bool {
	i := strings.LastIndexByte(groupID, '/')
	return i >= 0 && strings.HasPrefix(groupID[i+1:], league.GroupPrefixLate)
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES
// ══════════════════════════════════════════════════════════════════════════════

// grantBadges evaluates the catalog for every member of a committed cohort.
// Members closed by an earlier run are evaluated from their stored history so
// a run interrupted after the commit still grants their badges. Failures are
// logged and never undo the cohort.
func (h *RunWeeklyBatchHandler) grantBadges(ctx context.Context, log *slog.Logger, week timeutil.Date, c closedCohort) int {
	if h.badges == nil || h.badgeRepo == nil {
		return 0
	}

	facts := make([]badge.Facts, 0, len(c.result.Applied)+len(c.result.Skipped))
	for _, o := range c.result.Applied {
		facts = append(facts, factsFor(week, o.UserID, o.PrevTier, o.NewTier, o.Rank, o.Movement, c.summaries[o.UserID]))
	}
	for _, u := range c.result.Skipped {
		entry, err := h.leagueRepo.GetHistoryEntry(ctx, u, week)
		if err != nil {
			log.Warn("badge facts unavailable", "user_id", u.String(), "error", err)
			continue
		}
		f := factsFor(week, u, entry.PrevTier, entry.NewTier, entry.Rank, entry.Movement, c.summaries[u])
		f.HonestMinutes = entry.HonestMinutes
		facts = append(facts, f)
	}

	granted := 0
	now := h.now().UTC()
	for _, f := range facts {
		if h.badges.NeedsStreak() && h.streaks != nil {
			st, err := h.streaks.Evaluate(ctx, f.UserID, week)
			if err != nil {
				log.Warn("streak evaluation failed", "user_id", f.UserID.String(), "error", err)
			} else {
				f.Streak = st.Streak
			}
		}

		for _, g := range h.badges.Evaluate(f, now) {
			inserted, err := h.badgeRepo.Grant(ctx, g)
			if err != nil {
				log.Error("badge grant failed",
					"user_id", g.UserID.String(),
					"badge", g.BadgeCode,
					"error", err,
				)
				continue
			}
			if !inserted {
				continue
			}
			granted++
			h.publish(log, shared.NewBadgeGrantedEvent(g.UserID.String(), g.BadgeCode, week.String()))
		}
	}
	return granted
}

func factsFor(week timeutil.Date, user shared.UserID, prev, next league.Tier, rank shared.Rank, mv league.Movement, s metrics.Summary) badge.Facts {
	return badge.Facts{
		UserID:        user,
		WeekStart:     week,
		PrevTier:      prev.Int(),
		Tier:          next.Int(),
		Rank:          rank.Int(),
		Movement:      mv.String(),
		HonestMinutes: s.HonestMinutes,
		TotalMinutes:  s.TotalMinutes,
		HonestyRatio:  s.HonestyRatio,
	}
}

func (h *RunWeeklyBatchHandler) publish(log *slog.Logger, event shared.Event) {
	if h.eventPublisher == nil {
		return
	}
	if err := h.eventPublisher.Publish(event); err != nil {
		log.Warn("event publish failed", "event_type", string(event.EventType()), "error", err)
	}
}
