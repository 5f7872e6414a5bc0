package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/focus-league/internal/domain/accountability"
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RELATIONSHIP REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RelationshipRepository implements accountability.Repository for PostgreSQL.
type RelationshipRepository struct {
	conn *Connection
}

// NewRelationshipRepository creates a new RelationshipRepository.
func NewRelationshipRepository(conn *Connection) *RelationshipRepository {
	return &RelationshipRepository{conn: conn}
}

var _ accountability.Repository = (*RelationshipRepository)(nil)

const relationshipColumns = `owner_id, partner_id, status, visibility, invite_token_hash, created_at, updated_at`

func scanRelationship(row pgx.Row) (*accountability.Relationship, error) {
	var (
		rel                    accountability.Relationship
		owner, partner, status string
		vis                    []byte
	)
	if err := row.Scan(&owner, &partner, &status, &vis, &rel.InviteTokenHash, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(vis, &rel.Visibility); err != nil {
		return nil, err
	}
	rel.OwnerID, rel.PartnerID = shared.UserID(owner), shared.UserID(partner)
	rel.Status = accountability.Status(status)
	return &rel, nil
}

// Get returns the owner->partner row.
func (r *RelationshipRepository) Get(ctx context.Context, owner, partner shared.UserID) (*accountability.Relationship, error) {
	rel, err := scanRelationship(r.conn.QueryRow(ctx, `
		SELECT `+relationshipColumns+` FROM accountability_relationships
		WHERE owner_id = $1 AND partner_id = $2
	`, string(owner), string(partner)))
	if IsNoRows(err) {
		return nil, shared.ErrRelationshipNotFound
	}
	if err != nil {
		return nil, mapErr("accountability", "Get", err)
	}
	return rel, nil
}

// GetPair returns both directions between a and b.
func (r *RelationshipRepository) GetPair(ctx context.Context, a, b shared.UserID) (ab, ba *accountability.Relationship, err error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+relationshipColumns+` FROM accountability_relationships
		WHERE (owner_id = $1 AND partner_id = $2) OR (owner_id = $2 AND partner_id = $1)
	`, string(a), string(b))
	if err != nil {
		return nil, nil, mapErr("accountability", "GetPair", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*accountability.Relationship, error) {
		return scanRelationship(row)
	})
	if err != nil {
		return nil, nil, mapErr("accountability", "GetPair", err)
	}
	for _, rel := range list {
		if rel.OwnerID == a {
			ab = rel
		} else {
			ba = rel
		}
	}
	return ab, ba, nil
}

// Save upserts the row.
func (r *RelationshipRepository) Save(ctx context.Context, rel *accountability.Relationship) error {
	if rel.OwnerID == rel.PartnerID {
		return shared.ErrSelfPartnership
	}
	vis, err := json.Marshal(rel.Visibility)
	if err != nil {
		return shared.ComputeError("accountability", "Save", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO accountability_relationships (`+relationshipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_id, partner_id) DO UPDATE SET
			status = EXCLUDED.status,
			visibility = EXCLUDED.visibility,
			invite_token_hash = EXCLUDED.invite_token_hash,
			updated_at = EXCLUDED.updated_at
	`, string(rel.OwnerID), string(rel.PartnerID), string(rel.Status), vis, rel.InviteTokenHash, rel.CreatedAt, rel.UpdatedAt)
	return mapErr("accountability", "Save", err)
}

// ListByOwner returns rows owned by owner.
func (r *RelationshipRepository) ListByOwner(ctx context.Context, owner shared.UserID) ([]accountability.Relationship, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+relationshipColumns+` FROM accountability_relationships
		WHERE owner_id = $1 ORDER BY partner_id
	`, string(owner))
	if err != nil {
		return nil, mapErr("accountability", "ListByOwner", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (accountability.Relationship, error) {
		rel, err := scanRelationship(row)
		if err != nil {
			return accountability.Relationship{}, err
		}
		return *rel, nil
	})
	if err != nil {
		return nil, mapErr("accountability", "ListByOwner", err)
	}
	return out, nil
}
