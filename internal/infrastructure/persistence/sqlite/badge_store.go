package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/alem-hub/focus-league/internal/domain/badge"
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// BadgeStore implements badge.Repository.
type BadgeStore struct {
	db *sql.DB
}

// NewBadgeStore creates a BadgeStore.
func NewBadgeStore(db *sql.DB) *BadgeStore {
	return &BadgeStore{db: db}
}

var _ badge.Repository = (*BadgeStore)(nil)

// UpsertCatalog inserts or updates catalog entries by code.
func (s *BadgeStore) UpsertCatalog(ctx context.Context, badges []badge.Badge) error {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, b := range badges {
			if _, err := tx.ExecContext(ctx, `INSERT INTO badges (code, name, description) VALUES (?, ?, ?)
				ON CONFLICT (code) DO UPDATE SET name = excluded.name, description = excluded.description`,
				b.Code, b.Name, b.Description); err != nil {
				return err
			}
		}
		return nil
	})
	return mapErr("badge", "UpsertCatalog", err)
}

// Grant stores a grant once per (user, badge).
func (s *BadgeStore) Grant(ctx context.Context, g badge.Grant) (bool, error) {
	reason, err := json.Marshal(g.Reason)
	if err != nil {
		return false, shared.ComputeError("badge", "Grant", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO user_badges (user_id, badge_code, granted_at, reason)
		VALUES (?, ?, ?, ?) ON CONFLICT (user_id, badge_code) DO NOTHING`,
		string(g.UserID), g.BadgeCode, formatTS(g.GrantedAt), string(reason))
	if err != nil {
		return false, mapErr("badge", "Grant", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListByUser returns the user's badges in grant order.
func (s *BadgeStore) ListByUser(ctx context.Context, user shared.UserID) ([]badge.UserBadge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT b.code, b.name, b.description, ub.granted_at, ub.reason
		FROM user_badges ub JOIN badges b ON b.code = ub.badge_code
		WHERE ub.user_id = ? ORDER BY ub.granted_at, b.code`, string(user))
	if err != nil {
		return nil, mapErr("badge", "ListByUser", err)
	}
	defer rows.Close()

	var out []badge.UserBadge
	for rows.Next() {
		var (
			ub              badge.UserBadge
			granted, reason string
		)
		if err := rows.Scan(&ub.Badge.Code, &ub.Badge.Name, &ub.Badge.Description, &granted, &reason); err != nil {
			return nil, mapErr("badge", "ListByUser", err)
		}
		if ub.GrantedAt, err = parseTS(granted); err != nil {
			return nil, mapErr("badge", "ListByUser", err)
		}
		if err := json.Unmarshal([]byte(reason), &ub.Reason); err != nil {
			return nil, shared.ComputeError("badge", "ListByUser", err)
		}
		out = append(out, ub)
	}
	return out, mapErr("badge", "ListByUser", rows.Err())
}
