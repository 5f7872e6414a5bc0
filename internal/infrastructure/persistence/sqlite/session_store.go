package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// SessionStore implements session.Repository and session.Writer.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a SessionStore.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

var (
	_ session.Repository = (*SessionStore)(nil)
	_ session.Writer     = (*SessionStore)(nil)
)

const sessionCols = `id, user_id, goal_id, start_time, duration_minutes, honest, interruption_count`

// ListSessions returns sessions of users that started inside [from, to].
func (s *SessionStore) ListSessions(ctx context.Context, users []shared.UserID, from, to time.Time) ([]session.FocusSession, error) {
	var out []session.FocusSession
	for _, chunk := range chunks(users) {
		q := fmt.Sprintf(`SELECT %s FROM focus_sessions
			WHERE user_id IN (%s) AND start_time >= ? AND start_time <= ?
			ORDER BY start_time, id`, sessionCols, placeholders(len(chunk)))

		rows, err := s.db.QueryContext(ctx, q, userArgs(chunk, formatTS(from), formatTS(to))...)
		if err != nil {
			return nil, mapErr("session", "ListSessions", err)
		}
		for rows.Next() {
			var (
				fs             session.FocusSession
				user, goal, st string
				honest         int
			)
			if err := rows.Scan(&fs.ID, &user, &goal, &st, &fs.DurationMinutes, &honest, &fs.InterruptionCount); err != nil {
				rows.Close()
				return nil, mapErr("session", "ListSessions", err)
			}
			fs.UserID = shared.UserID(user)
			fs.GoalID = shared.GoalID(goal)
			fs.Honest = honest != 0
			if fs.StartTime, err = parseTS(st); err != nil {
				rows.Close()
				return nil, mapErr("session", "ListSessions", err)
			}
			out = append(out, fs)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, mapErr("session", "ListSessions", err)
		}
	}
	return out, nil
}

// ListActiveUsers returns distinct users with a session in [from, to].
func (s *SessionStore) ListActiveUsers(ctx context.Context, from, to time.Time) ([]shared.UserID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM focus_sessions
		WHERE start_time >= ? AND start_time <= ? ORDER BY user_id`, formatTS(from), formatTS(to))
	if err != nil {
		return nil, mapErr("session", "ListActiveUsers", err)
	}
	defer rows.Close()
	return scanUserIDs(rows, "session", "ListActiveUsers")
}

// ListGoals returns goal commitments of users.
func (s *SessionStore) ListGoals(ctx context.Context, users []shared.UserID) ([]session.GoalCommitment, error) {
	var out []session.GoalCommitment
	for _, chunk := range chunks(users) {
		q := fmt.Sprintf(`SELECT user_id, goal_id, weekly_hours_target, is_core
			FROM goal_commitments WHERE user_id IN (%s) ORDER BY user_id, goal_id`, placeholders(len(chunk)))
		rows, err := s.db.QueryContext(ctx, q, userArgs(chunk)...)
		if err != nil {
			return nil, mapErr("session", "ListGoals", err)
		}
		for rows.Next() {
			var (
				g          session.GoalCommitment
				user, goal string
				core       int
			)
			if err := rows.Scan(&user, &goal, &g.WeeklyHoursTarget, &core); err != nil {
				rows.Close()
				return nil, mapErr("session", "ListGoals", err)
			}
			g.UserID, g.GoalID, g.IsCore = shared.UserID(user), shared.GoalID(goal), core != 0
			out = append(out, g)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, mapErr("session", "ListGoals", err)
		}
	}
	return out, nil
}

// SaveSession inserts or replaces a session.
func (s *SessionStore) SaveSession(ctx context.Context, fs session.FocusSession) error {
	if err := fs.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO focus_sessions (`+sessionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id, goal_id = excluded.goal_id,
			start_time = excluded.start_time, duration_minutes = excluded.duration_minutes,
			honest = excluded.honest, interruption_count = excluded.interruption_count`,
		fs.ID, string(fs.UserID), string(fs.GoalID), formatTS(fs.StartTime),
		fs.DurationMinutes, boolInt(fs.Honest), fs.InterruptionCount)
	return mapErr("session", "SaveSession", err)
}

// SaveGoal inserts or replaces a goal commitment.
func (s *SessionStore) SaveGoal(ctx context.Context, g session.GoalCommitment) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO goal_commitments (user_id, goal_id, weekly_hours_target, is_core)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, goal_id) DO UPDATE SET
			weekly_hours_target = excluded.weekly_hours_target, is_core = excluded.is_core`,
		string(g.UserID), string(g.GoalID), g.WeeklyHoursTarget, boolInt(g.IsCore))
	return mapErr("session", "SaveGoal", err)
}

func scanUserIDs(rows *sql.Rows, domain, op string) ([]shared.UserID, error) {
	var out []shared.UserID
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, mapErr(domain, op, err)
		}
		out = append(out, shared.UserID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(domain, op, err)
	}
	return out, nil
}
