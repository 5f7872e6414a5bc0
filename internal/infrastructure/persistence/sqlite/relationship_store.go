package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/alem-hub/focus-league/internal/domain/accountability"
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// RelationshipStore implements accountability.Repository.
type RelationshipStore struct {
	db *sql.DB
}

// NewRelationshipStore creates a RelationshipStore.
func NewRelationshipStore(db *sql.DB) *RelationshipStore {
	return &RelationshipStore{db: db}
}

var _ accountability.Repository = (*RelationshipStore)(nil)

const relationshipCols = `owner_id, partner_id, status, visibility, invite_token_hash, created_at, updated_at`

func scanRelationship(scanner interface{ Scan(...any) error }) (*accountability.Relationship, error) {
	var (
		r                           accountability.Relationship
		owner, partner, status, vis string
		created, updated            string
	)
	if err := scanner.Scan(&owner, &partner, &status, &vis, &r.InviteTokenHash, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(vis), &r.Visibility); err != nil {
		return nil, err
	}
	var err error
	if r.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTS(updated); err != nil {
		return nil, err
	}
	r.OwnerID, r.PartnerID = shared.UserID(owner), shared.UserID(partner)
	r.Status = accountability.Status(status)
	return &r, nil
}

// Get returns the owner->partner row.
func (s *RelationshipStore) Get(ctx context.Context, owner, partner shared.UserID) (*accountability.Relationship, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+relationshipCols+` FROM accountability_relationships
		WHERE owner_id = ? AND partner_id = ?`, string(owner), string(partner))
	r, err := scanRelationship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrRelationshipNotFound
	}
	if err != nil {
		return nil, mapErr("accountability", "Get", err)
	}
	return r, nil
}

// GetPair returns both directions between a and b.
func (s *RelationshipStore) GetPair(ctx context.Context, a, b shared.UserID) (ab, ba *accountability.Relationship, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relationshipCols+` FROM accountability_relationships
		WHERE (owner_id = ? AND partner_id = ?) OR (owner_id = ? AND partner_id = ?)`,
		string(a), string(b), string(b), string(a))
	if err != nil {
		return nil, nil, mapErr("accountability", "GetPair", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, nil, mapErr("accountability", "GetPair", err)
		}
		if r.OwnerID == a {
			ab = r
		} else {
			ba = r
		}
	}
	return ab, ba, mapErr("accountability", "GetPair", rows.Err())
}

// Save upserts the row.
func (s *RelationshipStore) Save(ctx context.Context, r *accountability.Relationship) error {
	if r.OwnerID == r.PartnerID {
		return shared.ErrSelfPartnership
	}
	vis, err := json.Marshal(r.Visibility)
	if err != nil {
		return shared.ComputeError("accountability", "Save", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO accountability_relationships (`+relationshipCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, partner_id) DO UPDATE SET
			status = excluded.status, visibility = excluded.visibility,
			invite_token_hash = excluded.invite_token_hash, updated_at = excluded.updated_at`,
		string(r.OwnerID), string(r.PartnerID), string(r.Status), string(vis), r.InviteTokenHash,
		formatTS(r.CreatedAt), formatTS(r.UpdatedAt))
	return mapErr("accountability", "Save", err)
}

// ListByOwner returns rows owned by owner.
func (s *RelationshipStore) ListByOwner(ctx context.Context, owner shared.UserID) ([]accountability.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relationshipCols+` FROM accountability_relationships
		WHERE owner_id = ? ORDER BY partner_id`, string(owner))
	if err != nil {
		return nil, mapErr("accountability", "ListByOwner", err)
	}
	defer rows.Close()
	var out []accountability.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, mapErr("accountability", "ListByOwner", err)
		}
		out = append(out, *r)
	}
	return out, mapErr("accountability", "ListByOwner", rows.Err())
}
