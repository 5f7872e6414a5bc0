package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepository implements session.Repository and session.Writer for PostgreSQL.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

var (
	_ session.Repository = (*SessionRepository)(nil)
	_ session.Writer     = (*SessionRepository)(nil)
)

// ListSessions returns sessions of users started inside [from, to].
func (r *SessionRepository) ListSessions(ctx context.Context, users []shared.UserID, from, to time.Time) ([]session.FocusSession, error) {
	if len(users) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, user_id, goal_id, start_time, duration_minutes, honest, interruption_count
		FROM focus_sessions
		WHERE user_id = ANY($1) AND start_time >= $2 AND start_time <= $3
		ORDER BY start_time, id
	`
	rows, err := r.conn.Query(ctx, query, userStrings(users), from, to)
	if err != nil {
		return nil, mapErr("session", "ListSessions", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.FocusSession, error) {
		var (
			s          session.FocusSession
			user, goal string
		)
		err := row.Scan(&s.ID, &user, &goal, &s.StartTime, &s.DurationMinutes, &s.Honest, &s.InterruptionCount)
		s.UserID, s.GoalID = shared.UserID(user), shared.GoalID(goal)
		return s, err
	})
	if err != nil {
		return nil, mapErr("session", "ListSessions", err)
	}
	return out, nil
}

// ListActiveUsers returns users with a session inside [from, to].
func (r *SessionRepository) ListActiveUsers(ctx context.Context, from, to time.Time) ([]shared.UserID, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT DISTINCT user_id FROM focus_sessions
		WHERE start_time >= $1 AND start_time <= $2
		ORDER BY user_id
	`, from, to)
	if err != nil {
		return nil, mapErr("session", "ListActiveUsers", err)
	}
	return collectUserIDs(rows, "session", "ListActiveUsers")
}

// ListGoals returns goal commitments of users.
func (r *SessionRepository) ListGoals(ctx context.Context, users []shared.UserID) ([]session.GoalCommitment, error) {
	if len(users) == 0 {
		return nil, nil
	}
	rows, err := r.conn.Query(ctx, `
		SELECT user_id, goal_id, weekly_hours_target, is_core
		FROM goal_commitments WHERE user_id = ANY($1)
		ORDER BY user_id, goal_id
	`, userStrings(users))
	if err != nil {
		return nil, mapErr("session", "ListGoals", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.GoalCommitment, error) {
		var (
			g          session.GoalCommitment
			user, goal string
		)
		err := row.Scan(&user, &goal, &g.WeeklyHoursTarget, &g.IsCore)
		g.UserID, g.GoalID = shared.UserID(user), shared.GoalID(goal)
		return g, err
	})
	if err != nil {
		return nil, mapErr("session", "ListGoals", err)
	}
	return out, nil
}

// SaveSession upserts a session.
func (r *SessionRepository) SaveSession(ctx context.Context, s session.FocusSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO focus_sessions (id, user_id, goal_id, start_time, duration_minutes, honest, interruption_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			goal_id = EXCLUDED.goal_id,
			start_time = EXCLUDED.start_time,
			duration_minutes = EXCLUDED.duration_minutes,
			honest = EXCLUDED.honest,
			interruption_count = EXCLUDED.interruption_count
	`, s.ID, string(s.UserID), string(s.GoalID), s.StartTime, s.DurationMinutes, s.Honest, s.InterruptionCount)
	return mapErr("session", "SaveSession", err)
}

// SaveGoal upserts a goal commitment.
func (r *SessionRepository) SaveGoal(ctx context.Context, g session.GoalCommitment) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO goal_commitments (user_id, goal_id, weekly_hours_target, is_core)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, goal_id) DO UPDATE SET
			weekly_hours_target = EXCLUDED.weekly_hours_target,
			is_core = EXCLUDED.is_core
	`, string(g.UserID), string(g.GoalID), g.WeeklyHoursTarget, g.IsCore)
	return mapErr("session", "SaveGoal", err)
}

func collectUserIDs(rows pgx.Rows, domain, op string) ([]shared.UserID, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (shared.UserID, error) {
		var u string
		err := row.Scan(&u)
		return shared.UserID(u), err
	})
	if err != nil {
		return nil, mapErr(domain, op, err)
	}
	return out, nil
}
