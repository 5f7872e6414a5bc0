package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/focus-league/internal/domain/accountability"
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MANAGE RELATIONSHIP COMMANDS
// Invite, accept, revoke and visibility updates of accountability partners.
// A partner report needs both directional rows active; each owner controls
// only the row they own.
// ══════════════════════════════════════════════════════════════════════════════

// InviteCommand asks Partner to become Owner's accountability partner.
type InviteCommand struct {
	OwnerID    shared.UserID
	PartnerID  shared.UserID
	Visibility *accountability.Visibility // nil = default
}

// InviteResult carries the one-time token the partner needs to accept.
// Only its bcrypt hash is stored.
type InviteResult struct {
	OwnerID   shared.UserID `json:"owner_id"`
	PartnerID shared.UserID `json:"partner_id"`
	Token     string        `json:"token"`
	Status    string        `json:"status"`
}

// AcceptCommand is sent by Partner to accept Owner's invite.
type AcceptCommand struct {
	OwnerID    shared.UserID
	PartnerID  shared.UserID
	Token      string
	Visibility *accountability.Visibility // what Partner shares back; nil = default
}

// RevokeCommand ends Owner's side of a partnership.
type RevokeCommand struct {
	OwnerID   shared.UserID
	PartnerID shared.UserID
}

// UpdateVisibilityCommand changes what Owner shares with Partner.
type UpdateVisibilityCommand struct {
	OwnerID    shared.UserID
	PartnerID  shared.UserID
	Visibility accountability.Visibility
}

func validatePair(op string, owner, partner shared.UserID) error {
	if !owner.IsValid() {
		return shared.ValidationError("accountability", op, "owner id is missing or malformed")
	}
	if !partner.IsValid() {
		return shared.ValidationError("accountability", op, "partner id is missing or malformed")
	}
	if owner == partner {
		return shared.ErrSelfPartnership
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RelationshipHandler handles relationship lifecycle commands.
type RelationshipHandler struct {
	repo           accountability.Repository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
	bcryptCost     int
	now            func() time.Time
}

// NewRelationshipHandler creates a RelationshipHandler.
func NewRelationshipHandler(repo accountability.Repository, eventPublisher shared.EventPublisher, logger *slog.Logger) *RelationshipHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelationshipHandler{
		repo:           repo,
		eventPublisher: eventPublisher,
		logger:         logger.With("component", "relationships"),
		bcryptCost:     bcrypt.DefaultCost,
		now:            time.Now,
	}
}

// Invite creates or refreshes a pending Owner->Partner row.
// An already active row is left as is.
func (h *RelationshipHandler) Invite(ctx context.Context, cmd InviteCommand) (*InviteResult, error) {
	if err := validatePair("Invite", cmd.OwnerID, cmd.PartnerID); err != nil {
		return nil, err
	}

	existing, err := h.repo.Get(ctx, cmd.OwnerID, cmd.PartnerID)
	if err != nil && !shared.IsNotFound(err) {
		return nil, shared.ComputeError("accountability", "Invite", err)
	}
	if existing.IsActive() {
		return nil, shared.NewDomainError("accountability", "Invite", shared.ErrAlreadyExists, "partnership is already active")
	}

	token := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), h.bcryptCost)
	if err != nil {
		return nil, shared.ComputeError("accountability", "Invite", err)
	}

	now := h.now().UTC()
	rel := &accountability.Relationship{
		OwnerID:         cmd.OwnerID,
		PartnerID:       cmd.PartnerID,
		Status:          accountability.StatusPending,
		Visibility:      accountability.DefaultVisibility(),
		InviteTokenHash: string(hash),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if existing != nil {
		rel.CreatedAt = existing.CreatedAt
		rel.Visibility = existing.Visibility
	}
	if cmd.Visibility != nil {
		rel.Visibility = *cmd.Visibility
	}

	if err := h.repo.Save(ctx, rel); err != nil {
		return nil, shared.ComputeError("accountability", "Invite", err)
	}
	h.publish(rel, "invited")

	return &InviteResult{
		OwnerID:   rel.OwnerID,
		PartnerID: rel.PartnerID,
		Token:     token,
		Status:    string(rel.Status),
	}, nil
}

// Accept activates both directions once Partner proves the invite token.
// Accepting an already active partnership is a no-op.
func (h *RelationshipHandler) Accept(ctx context.Context, cmd AcceptCommand) error {
	if err := validatePair("Accept", cmd.OwnerID, cmd.PartnerID); err != nil {
		return err
	}

	ab, err := h.repo.Get(ctx, cmd.OwnerID, cmd.PartnerID)
	if err != nil {
		if shared.IsNotFound(err) {
			return shared.ErrRelationshipNotFound
		}
		return shared.ComputeError("accountability", "Accept", err)
	}

	switch ab.Status {
	case accountability.StatusRevoked:
		return shared.ErrRelationshipRevoked
	case accountability.StatusPending:
		if ab.InviteTokenHash == "" ||
			bcrypt.CompareHashAndPassword([]byte(ab.InviteTokenHash), []byte(cmd.Token)) != nil {
			return shared.ErrInvalidInviteToken
		}
	}

	now := h.now().UTC()

	ba, err := h.repo.Get(ctx, cmd.PartnerID, cmd.OwnerID)
	if err != nil && !shared.IsNotFound(err) {
		return shared.ComputeError("accountability", "Accept", err)
	}
	if ba == nil {
		ba = &accountability.Relationship{
			OwnerID:    cmd.PartnerID,
			PartnerID:  cmd.OwnerID,
			Visibility: accountability.DefaultVisibility(),
			CreatedAt:  now,
		}
	}
	ba.Status = accountability.StatusActive
	ba.InviteTokenHash = ""
	ba.UpdatedAt = now
	if cmd.Visibility != nil {
		ba.Visibility = *cmd.Visibility
	}

	// The partner's row goes first: a failure in between leaves at most one
	// active direction, which discloses nothing.
	if err := h.repo.Save(ctx, ba); err != nil {
		return shared.ComputeError("accountability", "Accept", err)
	}

	if ab.Status != accountability.StatusActive {
		ab.Status = accountability.StatusActive
		ab.InviteTokenHash = ""
		ab.UpdatedAt = now
		if err := h.repo.Save(ctx, ab); err != nil {
			return shared.ComputeError("accountability", "Accept", err)
		}
	}

	h.publish(ab, "accepted")
	return nil
}

// Revoke marks Owner's row revoked. The partner's row is left alone: one
// revoked direction is enough to stop disclosure both ways.
func (h *RelationshipHandler) Revoke(ctx context.Context, cmd RevokeCommand) error {
	if err := validatePair("Revoke", cmd.OwnerID, cmd.PartnerID); err != nil {
		return err
	}

	rel, err := h.get(ctx, "Revoke", cmd.OwnerID, cmd.PartnerID)
	if err != nil {
		return err
	}
	if rel.Status == accountability.StatusRevoked {
		return nil
	}

	rel.Status = accountability.StatusRevoked
	rel.InviteTokenHash = ""
	rel.UpdatedAt = h.now().UTC()
	if err := h.repo.Save(ctx, rel); err != nil {
		return shared.ComputeError("accountability", "Revoke", err)
	}
	h.publish(rel, "revoked")
	return nil
}

// UpdateVisibility replaces the per-field visibility of Owner's row.
func (h *RelationshipHandler) UpdateVisibility(ctx context.Context, cmd UpdateVisibilityCommand) error {
	if err := validatePair("UpdateVisibility", cmd.OwnerID, cmd.PartnerID); err != nil {
		return err
	}

	rel, err := h.get(ctx, "UpdateVisibility", cmd.OwnerID, cmd.PartnerID)
	if err != nil {
		return err
	}
	rel.Visibility = cmd.Visibility
	rel.UpdatedAt = h.now().UTC()
	if err := h.repo.Save(ctx, rel); err != nil {
		return shared.ComputeError("accountability", "UpdateVisibility", err)
	}
	h.publish(rel, "visibility_updated")
	return nil
}

func (h *RelationshipHandler) get(ctx context.Context, op string, owner, partner shared.UserID) (*accountability.Relationship, error) {
	rel, err := h.repo.Get(ctx, owner, partner)
	if err == nil {
		return rel, nil
	}
	if shared.IsNotFound(err) {
		return nil, shared.ErrRelationshipNotFound
	}
	return nil, shared.ComputeError("accountability", op, err)
}

func (h *RelationshipHandler) publish(rel *accountability.Relationship, action string) {
	if h.eventPublisher == nil {
		return
	}
	event := shared.NewRelationshipChangedEvent(rel.OwnerID.String(), rel.PartnerID.String(), string(rel.Status), action)
	if err := h.eventPublisher.Publish(event); err != nil {
		h.logger.Warn("event publish failed", "action", action, "error", err)
	}
}
