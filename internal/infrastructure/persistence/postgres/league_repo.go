package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEAGUE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LeagueRepository implements league.Repository for PostgreSQL.
type LeagueRepository struct {
	conn *Connection
}

// NewLeagueRepository creates a new LeagueRepository.
func NewLeagueRepository(conn *Connection) *LeagueRepository {
	return &LeagueRepository{conn: conn}
}

var _ league.Repository = (*LeagueRepository)(nil)

// DATE columns are passed and scanned as UTC midnight.
func dateArg(d timeutil.Date) time.Time { return d.StartIn(time.UTC) }
func dateOf(t time.Time) timeutil.Date  { return timeutil.DateOf(t, time.UTC) }

// ─────────────────────────────────────────────────────────────────────────────
// Roster
// ─────────────────────────────────────────────────────────────────────────────

const memberColumns = `user_id, display_name, public_name, tier, last_promotion_date, hqc_status, active, joined_at`

func scanMember(row pgx.Row) (league.Member, error) {
	var (
		m         league.Member
		user      string
		tier      int
		lastPromo *time.Time
	)
	err := row.Scan(&user, &m.DisplayName, &m.PublicName, &tier, &lastPromo, &m.HQCStatus, &m.Active, &m.JoinedAt)
	m.UserID, m.Tier = shared.UserID(user), league.Tier(tier)
	if lastPromo != nil {
		m.LastPromotionDate = dateOf(*lastPromo)
	}
	return m, err
}

// GetMember returns one member.
func (r *LeagueRepository) GetMember(ctx context.Context, user shared.UserID) (*league.Member, error) {
	m, err := scanMember(r.conn.QueryRow(ctx, `SELECT `+memberColumns+` FROM league_members WHERE user_id = $1`, string(user)))
	if IsNoRows(err) {
		return nil, shared.ErrMemberNotFound
	}
	if err != nil {
		return nil, mapErr("league", "GetMember", err)
	}
	return &m, nil
}

// GetMembers returns members found among users.
func (r *LeagueRepository) GetMembers(ctx context.Context, users []shared.UserID) (map[shared.UserID]league.Member, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+memberColumns+` FROM league_members WHERE user_id = ANY($1)`, userStrings(users))
	if err != nil {
		return nil, mapErr("league", "GetMembers", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (league.Member, error) { return scanMember(row) })
	if err != nil {
		return nil, mapErr("league", "GetMembers", err)
	}
	out := make(map[shared.UserID]league.Member, len(list))
	for _, m := range list {
		out[m.UserID] = m
	}
	return out, nil
}

// ListActiveMembers returns active members.
func (r *LeagueRepository) ListActiveMembers(ctx context.Context) ([]league.Member, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+memberColumns+` FROM league_members WHERE active ORDER BY user_id`)
	if err != nil {
		return nil, mapErr("league", "ListActiveMembers", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (league.Member, error) { return scanMember(row) })
	if err != nil {
		return nil, mapErr("league", "ListActiveMembers", err)
	}
	return out, nil
}

// EnrollMembers adds users that are not on the roster yet.
func (r *LeagueRepository) EnrollMembers(ctx context.Context, users []shared.UserID, tier league.Tier) (int, error) {
	if !tier.IsValid() {
		return 0, shared.ErrInvalidTier
	}
	if len(users) == 0 {
		return 0, nil
	}
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO league_members (user_id, tier)
		SELECT u, $2 FROM unnest($1::text[]) AS u
		ON CONFLICT (user_id) DO NOTHING
	`, userStrings(users), int(tier))
	if err != nil {
		return 0, mapErr("league", "EnrollMembers", err)
	}
	return int(tag.RowsAffected()), nil
}

// SetMembersActive flips the active flag of users whose flag differs.
func (r *LeagueRepository) SetMembersActive(ctx context.Context, users []shared.UserID, active bool) (int, error) {
	if len(users) == 0 {
		return 0, nil
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE league_members SET active = $2
		WHERE user_id = ANY($1::text[]) AND active <> $2
	`, userStrings(users), active)
	if err != nil {
		return 0, mapErr("league", "SetMembersActive", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpdateProfile sets the display name and the public flag.
func (r *LeagueRepository) UpdateProfile(ctx context.Context, user shared.UserID, displayName string, public bool) error {
	tag, err := r.conn.Exec(ctx, `UPDATE league_members SET display_name = $2, public_name = $3 WHERE user_id = $1`,
		string(user), displayName, public)
	if err != nil {
		return mapErr("league", "UpdateProfile", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrMemberNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Weekly seating
// ─────────────────────────────────────────────────────────────────────────────

const membershipColumns = `user_id, week_start, tier, group_id, rank_in_group`

func scanMembership(row pgx.Row) (league.Membership, error) {
	var (
		m    league.Membership
		user string
		week time.Time
		tier int
		rank *int
	)
	err := row.Scan(&user, &week, &tier, &m.GroupID, &rank)
	m.UserID, m.WeekStart, m.Tier = shared.UserID(user), dateOf(week), league.Tier(tier)
	if rank != nil {
		m.Rank = shared.Rank(*rank)
	}
	return m, err
}

// SeatMemberships inserts seating rows and keeps existing ones.
func (r *LeagueRepository) SeatMemberships(ctx context.Context, rows []league.Membership) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var (
		users  = make([]string, len(rows))
		weeks  = make([]time.Time, len(rows))
		tiers  = make([]int32, len(rows))
		groups = make([]string, len(rows))
	)
	for i, m := range rows {
		users[i], weeks[i], tiers[i], groups[i] = string(m.UserID), dateArg(m.WeekStart), int32(m.Tier), m.GroupID
	}
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO league_memberships (user_id, week_start, tier, group_id)
		SELECT * FROM unnest($1::text[], $2::date[], $3::smallint[], $4::text[])
		ON CONFLICT (user_id, week_start) DO NOTHING
	`, users, weeks, tiers, groups)
	if err != nil {
		return 0, mapErr("league", "SeatMemberships", err)
	}
	return int(tag.RowsAffected()), nil
}

// UnseatMemberships removes seats that are neither ranked nor closed.
func (r *LeagueRepository) UnseatMemberships(ctx context.Context, week timeutil.Date, users []shared.UserID) (int, error) {
	if len(users) == 0 {
		return 0, nil
	}
	tag, err := r.conn.Exec(ctx, `
		DELETE FROM league_memberships m
		WHERE m.week_start = $1 AND m.user_id = ANY($2::text[]) AND m.rank_in_group IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM league_history h WHERE h.user_id = m.user_id AND h.week_start = m.week_start
		  )
	`, dateArg(week), userStrings(users))
	if err != nil {
		return 0, mapErr("league", "UnseatMemberships", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListMemberships returns the seating of week.
func (r *LeagueRepository) ListMemberships(ctx context.Context, week timeutil.Date) ([]league.Membership, error) {
	return r.queryMemberships(ctx, "ListMemberships", `
		SELECT `+membershipColumns+` FROM league_memberships
		WHERE week_start = $1 ORDER BY group_id, user_id
	`, dateArg(week))
}

// GetMembership returns user's seat in week.
func (r *LeagueRepository) GetMembership(ctx context.Context, user shared.UserID, week timeutil.Date) (*league.Membership, error) {
	m, err := scanMembership(r.conn.QueryRow(ctx, `
		SELECT `+membershipColumns+` FROM league_memberships WHERE user_id = $1 AND week_start = $2
	`, string(user), dateArg(week)))
	if IsNoRows(err) {
		return nil, shared.ErrNotSeated
	}
	if err != nil {
		return nil, mapErr("league", "GetMembership", err)
	}
	return &m, nil
}

// ListGroup returns one group's seats.
func (r *LeagueRepository) ListGroup(ctx context.Context, week timeutil.Date, groupID string) ([]league.Membership, error) {
	return r.queryMemberships(ctx, "ListGroup", `
		SELECT `+membershipColumns+` FROM league_memberships
		WHERE week_start = $1 AND group_id = $2 ORDER BY user_id
	`, dateArg(week), groupID)
}

func (r *LeagueRepository) queryMemberships(ctx context.Context, op, query string, args ...any) ([]league.Membership, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr("league", op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (league.Membership, error) { return scanMembership(row) })
	if err != nil {
		return nil, mapErr("league", op, err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Close and history
// ─────────────────────────────────────────────────────────────────────────────

// ApplyCohort records a cohort's outcomes in one transaction. Roster updates
// follow only history rows inserted by this call.
func (r *LeagueRepository) ApplyCohort(ctx context.Context, c league.CohortCommit) (league.CohortResult, error) {
	var result league.CohortResult
	week, next := dateArg(c.WeekStart), dateArg(c.NextWeekStart)

	err := r.conn.WithTx(ctx, CohortTxOptions(), func(tx pgx.Tx) error {
		result = league.CohortResult{}
		for _, o := range c.Outcomes {
			tag, err := tx.Exec(ctx, `
				INSERT INTO league_history (
					user_id, week_start, prev_tier, new_tier, group_id, rank_in_group,
					honest_minutes, movement, hqc_status, recorded_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (user_id, week_start) DO NOTHING
			`, string(o.UserID), week, int(o.PrevTier), int(o.NewTier), o.GroupID, int(o.Rank),
				o.HonestMinutes, string(o.Movement), o.HQC, c.RecordedAt)
			if err != nil {
				return err
			}

			if tag.RowsAffected() == 0 {
				result.Skipped = append(result.Skipped, o.UserID)
			} else {
				upd, err := tx.Exec(ctx, `
					UPDATE league_members m SET
						tier = CASE WHEN m.tier = $7 THEN m.tier ELSE $2 END,
						hqc_status = COALESCE($3::boolean, m.hqc_status),
						last_promotion_date = CASE WHEN $4::boolean THEN $5::date ELSE m.last_promotion_date END
					WHERE m.user_id = $1
					  AND NOT EXISTS (
						SELECT 1 FROM league_history h
						WHERE h.user_id = m.user_id AND h.week_start > $6::date
					  )
				`, string(o.UserID), int(o.NewTier), o.HQC, o.TierChanged(), next, week, int(league.MaxTier))
				if err != nil {
					return err
				}
				result.Applied = append(result.Applied, o)
				if upd.RowsAffected() == 0 {
					result.Stale = append(result.Stale, o.UserID)
				}
			}

			if _, err := tx.Exec(ctx, `
				UPDATE league_memberships SET rank_in_group = $3
				WHERE user_id = $1 AND week_start = $2 AND rank_in_group IS NULL
			`, string(o.UserID), week, int(o.Rank)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return league.CohortResult{}, mapErr("league", "ApplyCohort", err)
	}
	return result, nil
}

const historyColumns = `user_id, week_start, prev_tier, new_tier, group_id, rank_in_group, honest_minutes, movement, hqc_status, recorded_at`

func scanHistory(row pgx.Row) (league.HistoryEntry, error) {
	var (
		h                league.HistoryEntry
		user, move       string
		week             time.Time
		prev, next, rank int
	)
	err := row.Scan(&user, &week, &prev, &next, &h.GroupID, &rank, &h.HonestMinutes, &move, &h.HQCStatus, &h.RecordedAt)
	h.UserID, h.WeekStart = shared.UserID(user), dateOf(week)
	h.PrevTier, h.NewTier, h.Rank = league.Tier(prev), league.Tier(next), shared.Rank(rank)
	h.Movement = league.Movement(move)
	return h, err
}

// ListHistory returns the user's history, latest week first.
func (r *LeagueRepository) ListHistory(ctx context.Context, user shared.UserID, page shared.Pagination) ([]league.HistoryEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+historyColumns+` FROM league_history
		WHERE user_id = $1 ORDER BY week_start DESC LIMIT $2 OFFSET $3
	`, string(user), page.Limit(), page.Offset())
	if err != nil {
		return nil, mapErr("league", "ListHistory", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (league.HistoryEntry, error) { return scanHistory(row) })
	if err != nil {
		return nil, mapErr("league", "ListHistory", err)
	}
	return out, nil
}

// GetHistoryEntry returns one week's entry.
func (r *LeagueRepository) GetHistoryEntry(ctx context.Context, user shared.UserID, week timeutil.Date) (*league.HistoryEntry, error) {
	h, err := scanHistory(r.conn.QueryRow(ctx, `
		SELECT `+historyColumns+` FROM league_history WHERE user_id = $1 AND week_start = $2
	`, string(user), dateArg(week)))
	if IsNoRows(err) {
		return nil, shared.NewDomainError("league", "GetHistoryEntry", shared.ErrNotFound, "no history for week")
	}
	if err != nil {
		return nil, mapErr("league", "GetHistoryEntry", err)
	}
	return &h, nil
}

// ListClosedUsers returns users with a history row for week.
func (r *LeagueRepository) ListClosedUsers(ctx context.Context, week timeutil.Date) ([]shared.UserID, error) {
	rows, err := r.conn.Query(ctx, `SELECT user_id FROM league_history WHERE week_start = $1 ORDER BY user_id`, dateArg(week))
	if err != nil {
		return nil, mapErr("league", "ListClosedUsers", err)
	}
	return collectUserIDs(rows, "league", "ListClosedUsers")
}
