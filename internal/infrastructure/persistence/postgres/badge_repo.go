package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/focus-league/internal/domain/badge"
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// BadgeRepository implements badge.Repository for PostgreSQL.
type BadgeRepository struct {
	conn *Connection
}

// NewBadgeRepository creates a new BadgeRepository.
func NewBadgeRepository(conn *Connection) *BadgeRepository {
	return &BadgeRepository{conn: conn}
}

var _ badge.Repository = (*BadgeRepository)(nil)

// UpsertCatalog inserts or updates catalog entries.
func (r *BadgeRepository) UpsertCatalog(ctx context.Context, badges []badge.Badge) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, b := range badges {
			batch.Queue(`
				INSERT INTO badges (code, name, description) VALUES ($1, $2, $3)
				ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description
			`, b.Code, b.Name, b.Description)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return mapErr("badge", "UpsertCatalog", err)
}

// Grant stores a grant once per (user, badge).
func (r *BadgeRepository) Grant(ctx context.Context, g badge.Grant) (bool, error) {
	reason, err := json.Marshal(g.Reason)
	if err != nil {
		return false, shared.ComputeError("badge", "Grant", err)
	}
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO user_badges (user_id, badge_code, granted_at, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, badge_code) DO NOTHING
	`, string(g.UserID), g.BadgeCode, g.GrantedAt, reason)
	if err != nil {
		return false, mapErr("badge", "Grant", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser returns the user's badges in grant order.
func (r *BadgeRepository) ListByUser(ctx context.Context, user shared.UserID) ([]badge.UserBadge, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT b.code, b.name, b.description, ub.granted_at, ub.reason
		FROM user_badges ub JOIN badges b ON b.code = ub.badge_code
		WHERE ub.user_id = $1
		ORDER BY ub.granted_at, b.code
	`, string(user))
	if err != nil {
		return nil, mapErr("badge", "ListByUser", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (badge.UserBadge, error) {
		var (
			ub     badge.UserBadge
			reason []byte
		)
		if err := row.Scan(&ub.Badge.Code, &ub.Badge.Name, &ub.Badge.Description, &ub.GrantedAt, &reason); err != nil {
			return ub, err
		}
		return ub, json.Unmarshal(reason, &ub.Reason)
	})
	if err != nil {
		return nil, mapErr("badge", "ListByUser", err)
	}
	return out, nil
}
