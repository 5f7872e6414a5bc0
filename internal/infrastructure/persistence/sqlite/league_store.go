package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// LeagueStore implements league.Repository.
type LeagueStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewLeagueStore creates a LeagueStore.
func NewLeagueStore(db *sql.DB) *LeagueStore {
	return &LeagueStore{db: db, now: time.Now}
}

var _ league.Repository = (*LeagueStore)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER
// ══════════════════════════════════════════════════════════════════════════════

const memberCols = `user_id, display_name, public_name, tier, last_promotion_date, hqc_status, active, joined_at`

func scanMember(scanner interface{ Scan(...any) error }) (*league.Member, error) {
	var (
		m                   league.Member
		user, joined        string
		public, hqc, active int
		tier                int
		lastPromo           sql.NullString
	)
	if err := scanner.Scan(&user, &m.DisplayName, &public, &tier, &lastPromo, &hqc, &active, &joined); err != nil {
		return nil, err
	}
	var err error
	if m.LastPromotionDate, err = parseDate(lastPromo); err != nil {
		return nil, err
	}
	if m.JoinedAt, err = parseTS(joined); err != nil {
		return nil, err
	}
	m.UserID = shared.UserID(user)
	m.Tier = league.Tier(tier)
	m.PublicName, m.HQCStatus, m.Active = public != 0, hqc != 0, active != 0
	return &m, nil
}

// GetMember returns one member.
func (s *LeagueStore) GetMember(ctx context.Context, user shared.UserID) (*league.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberCols+` FROM league_members WHERE user_id = ?`, string(user))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrMemberNotFound
	}
	if err != nil {
		return nil, mapErr("league", "GetMember", err)
	}
	return m, nil
}

// GetMembers returns the members found among users.
func (s *LeagueStore) GetMembers(ctx context.Context, users []shared.UserID) (map[shared.UserID]league.Member, error) {
	out := make(map[shared.UserID]league.Member, len(users))
	for _, chunk := range chunks(users) {
		q := fmt.Sprintf(`SELECT %s FROM league_members WHERE user_id IN (%s)`, memberCols, placeholders(len(chunk)))
		if err := s.queryMembers(ctx, "GetMembers", q, userArgs(chunk), func(m *league.Member) {
			out[m.UserID] = *m
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListActiveMembers returns active members ordered by user id.
func (s *LeagueStore) ListActiveMembers(ctx context.Context) ([]league.Member, error) {
	var out []league.Member
	err := s.queryMembers(ctx, "ListActiveMembers",
		`SELECT `+memberCols+` FROM league_members WHERE active = 1 ORDER BY user_id`, nil,
		func(m *league.Member) { out = append(out, *m) })
	return out, err
}

func (s *LeagueStore) queryMembers(ctx context.Context, op, q string, args []any, fn func(*league.Member)) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return mapErr("league", op, err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return mapErr("league", op, err)
		}
		fn(m)
	}
	return mapErr("league", op, rows.Err())
}

// EnrollMembers adds users that are not on the roster yet.
func (s *LeagueStore) EnrollMembers(ctx context.Context, users []shared.UserID, tier league.Tier) (int, error) {
	if !tier.IsValid() {
		return 0, shared.ErrInvalidTier
	}
	joined := formatTS(s.now())
	added := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO league_members (user_id, tier, joined_at)
			VALUES (?, ?, ?) ON CONFLICT (user_id) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range users {
			res, err := stmt.ExecContext(ctx, string(u), int(tier), joined)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			added += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, mapErr("league", "EnrollMembers", err)
	}
	return added, nil
}

// SetMembersActive flips the active flag of users whose flag differs.
func (s *LeagueStore) SetMembersActive(ctx context.Context, users []shared.UserID, active bool) (int, error) {
	changed := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE league_members SET active = ? WHERE user_id = ? AND active <> ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range users {
			res, err := stmt.ExecContext(ctx, boolInt(active), string(u), boolInt(active))
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			changed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, mapErr("league", "SetMembersActive", err)
	}
	return changed, nil
}

// UpdateProfile sets the display name and the public flag.
func (s *LeagueStore) UpdateProfile(ctx context.Context, user shared.UserID, displayName string, public bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE league_members SET display_name = ?, public_name = ? WHERE user_id = ?`,
		displayName, boolInt(public), string(user))
	if err != nil {
		return mapErr("league", "UpdateProfile", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrMemberNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY SEATING
// ══════════════════════════════════════════════════════════════════════════════

const membershipCols = `user_id, week_start, tier, group_id, rank_in_group`

func scanMembership(scanner interface{ Scan(...any) error }) (*league.Membership, error) {
	var (
		m          league.Membership
		user, week string
		tier       int
		rank       sql.NullInt64
	)
	if err := scanner.Scan(&user, &week, &tier, &m.GroupID, &rank); err != nil {
		return nil, err
	}
	var err error
	if m.WeekStart, err = timeutil.ParseDate(week); err != nil {
		return nil, err
	}
	m.UserID, m.Tier = shared.UserID(user), league.Tier(tier)
	if rank.Valid {
		m.Rank = shared.Rank(rank.Int64)
	}
	return &m, nil
}

// SeatMemberships inserts seating rows, keeping rows that already exist.
func (s *LeagueStore) SeatMemberships(ctx context.Context, rows []league.Membership) (int, error) {
	seated := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO league_memberships (user_id, week_start, tier, group_id)
			VALUES (?, ?, ?, ?) ON CONFLICT (user_id, week_start) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range rows {
			res, err := stmt.ExecContext(ctx, string(m.UserID), m.WeekStart.String(), int(m.Tier), m.GroupID)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			seated += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, mapErr("league", "SeatMemberships", err)
	}
	return seated, nil
}

// UnseatMemberships removes seats that are neither ranked nor closed.
func (s *LeagueStore) UnseatMemberships(ctx context.Context, week timeutil.Date, users []shared.UserID) (int, error) {
	removed := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM league_memberships
			WHERE user_id = ? AND week_start = ? AND rank_in_group IS NULL
			  AND NOT EXISTS (SELECT 1 FROM league_history h
				WHERE h.user_id = league_memberships.user_id AND h.week_start = league_memberships.week_start)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range users {
			res, err := stmt.ExecContext(ctx, string(u), week.String())
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			removed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, mapErr("league", "UnseatMemberships", err)
	}
	return removed, nil
}

// ListMemberships returns the seating of a week ordered by group and user.
func (s *LeagueStore) ListMemberships(ctx context.Context, week timeutil.Date) ([]league.Membership, error) {
	return s.queryMemberships(ctx, "ListMemberships",
		`SELECT `+membershipCols+` FROM league_memberships WHERE week_start = ? ORDER BY group_id, user_id`,
		week.String())
}

// GetMembership returns the seat of user in week.
func (s *LeagueStore) GetMembership(ctx context.Context, user shared.UserID, week timeutil.Date) (*league.Membership, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+membershipCols+` FROM league_memberships
		WHERE user_id = ? AND week_start = ?`, string(user), week.String())
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrNotSeated
	}
	if err != nil {
		return nil, mapErr("league", "GetMembership", err)
	}
	return m, nil
}

// ListGroup returns the members of one group.
func (s *LeagueStore) ListGroup(ctx context.Context, week timeutil.Date, groupID string) ([]league.Membership, error) {
	return s.queryMemberships(ctx, "ListGroup",
		`SELECT `+membershipCols+` FROM league_memberships WHERE week_start = ? AND group_id = ? ORDER BY user_id`,
		week.String(), groupID)
}

func (s *LeagueStore) queryMemberships(ctx context.Context, op, q string, args ...any) ([]league.Membership, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr("league", op, err)
	}
	defer rows.Close()
	var out []league.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, mapErr("league", op, err)
		}
		out = append(out, *m)
	}
	return out, mapErr("league", op, rows.Err())
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOSE AND HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// ApplyCohort records one cohort's outcomes atomically. History rows are
// insert-once; roster updates follow only the rows this call inserted, so a
// repeated call is a no-op. A week closed after a later one keeps its history
// but leaves the roster alone, and a stored MaxTier is never lowered.
func (s *LeagueStore) ApplyCohort(ctx context.Context, c league.CohortCommit) (league.CohortResult, error) {
	var result league.CohortResult
	recorded := formatTS(c.RecordedAt)
	week := c.WeekStart.String()
	next := c.NextWeekStart.String()

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		result = league.CohortResult{}
		for _, o := range c.Outcomes {
			var hqc sql.NullInt64
			if o.HQC != nil {
				hqc = sql.NullInt64{Int64: int64(boolInt(*o.HQC)), Valid: true}
			}
			res, err := tx.ExecContext(ctx, `INSERT INTO league_history
				(user_id, week_start, prev_tier, new_tier, group_id, rank_in_group, honest_minutes, movement, hqc_status, recorded_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (user_id, week_start) DO NOTHING`,
				string(o.UserID), week, int(o.PrevTier), int(o.NewTier), o.GroupID, int(o.Rank),
				o.HonestMinutes, string(o.Movement), hqc, recorded)
			if err != nil {
				return err
			}

			if n, _ := res.RowsAffected(); n == 0 {
				result.Skipped = append(result.Skipped, o.UserID)
			} else {
				upd, err := tx.ExecContext(ctx, `UPDATE league_members SET
						tier = CASE WHEN tier = ? THEN tier ELSE ? END,
						hqc_status = COALESCE(?, hqc_status),
						last_promotion_date = CASE WHEN ? THEN ? ELSE last_promotion_date END
					WHERE user_id = ?
					  AND NOT EXISTS (SELECT 1 FROM league_history h
						WHERE h.user_id = league_members.user_id AND h.week_start > ?)`,
					int(league.MaxTier), int(o.NewTier), hqc, boolInt(o.TierChanged()), next, string(o.UserID), week)
				if err != nil {
					return err
				}
				result.Applied = append(result.Applied, o)
				if n, _ := upd.RowsAffected(); n == 0 {
					result.Stale = append(result.Stale, o.UserID)
				}
			}

			if _, err := tx.ExecContext(ctx, `UPDATE league_memberships SET rank_in_group = ?
				WHERE user_id = ? AND week_start = ? AND rank_in_group IS NULL`,
				int(o.Rank), string(o.UserID), week); err != nil {
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

const historyCols = `user_id, week_start, prev_tier, new_tier, group_id, rank_in_group, honest_minutes, movement, hqc_status, recorded_at`

func scanHistory(scanner interface{ Scan(...any) error }) (*league.HistoryEntry, error) {
	var (
		h                     league.HistoryEntry
		user, week, move, rec string
		prev, next, rank      int
		hqc                   sql.NullInt64
	)
	if err := scanner.Scan(&user, &week, &prev, &next, &h.GroupID, &rank, &h.HonestMinutes, &move, &hqc, &rec); err != nil {
		return nil, err
	}
	var err error
	if h.WeekStart, err = timeutil.ParseDate(week); err != nil {
		return nil, err
	}
	if h.RecordedAt, err = parseTS(rec); err != nil {
		return nil, err
	}
	h.UserID = shared.UserID(user)
	h.PrevTier, h.NewTier = league.Tier(prev), league.Tier(next)
	h.Rank = shared.Rank(rank)
	h.Movement = league.Movement(move)
	if hqc.Valid {
		v := hqc.Int64 != 0
		h.HQCStatus = &v
	}
	return &h, nil
}

// ListHistory returns the user's history, latest week first.
func (s *LeagueStore) ListHistory(ctx context.Context, user shared.UserID, page shared.Pagination) ([]league.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+historyCols+` FROM league_history
		WHERE user_id = ? ORDER BY week_start DESC LIMIT ? OFFSET ?`,
		string(user), page.Limit(), page.Offset())
	if err != nil {
		return nil, mapErr("league", "ListHistory", err)
	}
	defer rows.Close()
	var out []league.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, mapErr("league", "ListHistory", err)
		}
		out = append(out, *h)
	}
	return out, mapErr("league", "ListHistory", rows.Err())
}

// GetHistoryEntry returns the entry of one week.
func (s *LeagueStore) GetHistoryEntry(ctx context.Context, user shared.UserID, week timeutil.Date) (*league.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historyCols+` FROM league_history
		WHERE user_id = ? AND week_start = ?`, string(user), week.String())
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("league", "GetHistoryEntry", shared.ErrNotFound, "no history for week")
	}
	if err != nil {
		return nil, mapErr("league", "GetHistoryEntry", err)
	}
	return h, nil
}

// ListClosedUsers returns users with a history row for week.
func (s *LeagueStore) ListClosedUsers(ctx context.Context, week timeutil.Date) ([]shared.UserID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM league_history WHERE week_start = ? ORDER BY user_id`, week.String())
	if err != nil {
		return nil, mapErr("league", "ListClosedUsers", err)
	}
	defer rows.Close()
	return scanUserIDs(rows, "league", "ListClosedUsers")
}
