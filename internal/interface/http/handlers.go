package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/alem-hub/focus-league/internal/application/command"
	"github.com/alem-hub/focus-league/internal/application/query"
	"github.com/alem-hub/focus-league/internal/domain/accountability"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/logger"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION PORTS
// ══════════════════════════════════════════════════════════════════════════════

// BatchRunner closes a league week.
type BatchRunner interface {
	Handle(ctx context.Context, cmd command.RunWeeklyBatchCommand) (*command.RunWeeklyBatchResult, error)
}

// LeaderboardReader serves the viewer's live board.
type LeaderboardReader interface {
	Handle(ctx context.Context, q query.GetLeaderboardQuery) (*query.GetLeaderboardResult, error)
}

// PartnerReporter serves mutual partner reports.
type PartnerReporter interface {
	Handle(ctx context.Context, q query.GetPartnerReportQuery) (*query.PartnerReport, error)
}

// HistoryReader serves league history.
type HistoryReader interface {
	Handle(ctx context.Context, q query.GetHistoryQuery) (*query.GetHistoryResult, error)
}

// BadgeReader serves granted badges.
type BadgeReader interface {
	Handle(ctx context.Context, q query.GetBadgesQuery) (*query.GetBadgesResult, error)
}

// StreakReader serves the core-goal streak.
type StreakReader interface {
	Handle(ctx context.Context, q query.GetStreakQuery) (*query.GetStreakResult, error)
}

// RelationshipManager runs the partnership lifecycle.
type RelationshipManager interface {
	Invite(ctx context.Context, cmd command.InviteCommand) (*command.InviteResult, error)
	Accept(ctx context.Context, cmd command.AcceptCommand) error
	Revoke(ctx context.Context, cmd command.RevokeCommand) error
	UpdateVisibility(ctx context.Context, cmd command.UpdateVisibilityCommand) error
}

// ══════════════════════════════════════════════════════════════════════════════
// LEAGUE
// ══════════════════════════════════════════════════════════════════════════════

// batchResponse flattens the run summary next to ok.
type batchResponse struct {
	OK bool `json:"ok"`
	*command.RunWeeklyBatchResult
}

// handleRunBatch handles POST /api/v1/league/batch[?week=YYYY-MM-DD].
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	cmd := command.RunWeeklyBatchCommand{Trigger: "api"}
	if raw := r.URL.Query().Get("week"); raw != "" {
		week, err := timeutil.ParseDate(raw)
		if err != nil {
			s.writeError(w, r, shared.ErrInvalidWeekKey)
			return
		}
		cmd.WeekStart = week
	}

	res, err := s.deps.Batch.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info("weekly batch finished via api",
		logger.String("run_id", res.RunID),
		logger.WeekStart(res.WeekStart.String()),
		logger.Int("cohorts_applied", res.Applied),
		logger.Int("cohorts_failed", res.Failed),
	)
	for _, f := range res.Failures {
		log.Warn("cohort not applied", logger.CohortID(f.GroupID), logger.Tier(f.Tier), logger.String("error", f.Error))
	}
	writeJSON(w, http.StatusOK, batchResponse{OK: true, RunWeeklyBatchResult: res})
}

// handleGetLeaderboard handles GET /api/v1/leaderboard?user=.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	viewer := shared.UserID(r.URL.Query().Get("user"))
	if err := s.identity.authorize(r.Context(), viewer); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{ViewerID: viewer})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetHistory handles GET /api/v1/users/{id}/history.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	q := query.GetHistoryQuery{
		UserID: shared.UserID(r.PathValue("id")),
		Page: shared.Pagination{
			Page:     queryInt(r, "page", 1),
			PageSize: queryInt(r, "page_size", 0),
		},
	}
	res, err := s.deps.History.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetBadges handles GET /api/v1/users/{id}/badges.
func (s *Server) handleGetBadges(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Badges.Handle(r.Context(), query.GetBadgesQuery{UserID: shared.UserID(r.PathValue("id"))})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetStreak handles GET /api/v1/users/{id}/streak.
func (s *Server) handleGetStreak(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Streak.Handle(r.Context(), query.GetStreakQuery{UserID: shared.UserID(r.PathValue("id"))})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// PARTNERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetPartnerReport handles GET /api/v1/partners/report?owner=&partner=&start=&end=.
func (s *Server) handleGetPartnerReport(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := query.GetPartnerReportQuery{
		OwnerID:   shared.UserID(params.Get("owner")),
		PartnerID: shared.UserID(params.Get("partner")),
	}
	var err error
	if q.Start, err = optionalDate(params.Get("start")); err != nil {
		s.writeError(w, r, shared.ValidationError("accountability", "PartnerReport", "start must be YYYY-MM-DD"))
		return
	}
	if q.End, err = optionalDate(params.Get("end")); err != nil {
		s.writeError(w, r, shared.ValidationError("accountability", "PartnerReport", "end must be YYYY-MM-DD"))
		return
	}
	if err := q.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.identity.authorize(r.Context(), q.OwnerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.featureEnabled(featurePartnerReports, q.OwnerID) {
		writeJSONError(w, r, http.StatusNotFound, "not_found", "partner reports are not available")
		return
	}

	res, err := s.deps.Partners.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// relationshipRequest is the body of every relationship action.
type relationshipRequest struct {
	Owner      string                     `json:"owner"`
	Partner    string                     `json:"partner"`
	Token      string                     `json:"token,omitempty"`
	Visibility *accountability.Visibility `json:"visibility,omitempty"`
}

type okResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
}

type inviteResponse struct {
	OK bool `json:"ok"`
	*command.InviteResult
}

// handleInvite handles POST /api/v1/relationships/invite. Caller is the owner.
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRelationship(w, r)
	if !ok {
		return
	}
	owner := shared.UserID(req.Owner)
	if err := s.identity.authorize(r.Context(), owner); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Relationships.Invite(r.Context(), command.InviteCommand{
		OwnerID:    owner,
		PartnerID:  shared.UserID(req.Partner),
		Visibility: req.Visibility,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inviteResponse{OK: true, InviteResult: res})
}

// handleAccept handles POST /api/v1/relationships/accept. Caller is the partner.
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRelationship(w, r)
	if !ok {
		return
	}
	partner := shared.UserID(req.Partner)
	if err := s.identity.authorize(r.Context(), partner); err != nil {
		s.writeError(w, r, err)
		return
	}

	err := s.deps.Relationships.Accept(r.Context(), command.AcceptCommand{
		OwnerID:    shared.UserID(req.Owner),
		PartnerID:  partner,
		Token:      req.Token,
		Visibility: req.Visibility,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true, Status: string(accountability.StatusActive)})
}

// handleRevoke handles POST /api/v1/relationships/revoke.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRelationship(w, r)
	if !ok {
		return
	}
	owner := shared.UserID(req.Owner)
	if err := s.identity.authorize(r.Context(), owner); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.deps.Relationships.Revoke(r.Context(), command.RevokeCommand{
		OwnerID:   owner,
		PartnerID: shared.UserID(req.Partner),
	}); err != nil {
		s.writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("partnership revoked",
		logger.UserID(owner.String()),
		logger.String("partner_id", req.Partner),
	)
	writeJSON(w, http.StatusOK, okResponse{OK: true, Status: string(accountability.StatusRevoked)})
}

// handleUpdateVisibility handles PUT /api/v1/relationships/visibility.
func (s *Server) handleUpdateVisibility(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRelationship(w, r)
	if !ok {
		return
	}
	if req.Visibility == nil {
		s.writeError(w, r, shared.ValidationError("accountability", "UpdateVisibility", "visibility is required"))
		return
	}
	owner := shared.UserID(req.Owner)
	if err := s.identity.authorize(r.Context(), owner); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.deps.Relationships.UpdateVisibility(r.Context(), command.UpdateVisibilityCommand{
		OwnerID:    owner,
		PartnerID:  shared.UserID(req.Partner),
		Visibility: *req.Visibility,
	}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) decodeRelationship(w http.ResponseWriter, r *http.Request) (relationshipRequest, bool) {
	var req relationshipRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, shared.ValidationError("accountability", "Decode", "request body must be a JSON object"))
		return req, false
	}
	return req, true
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func optionalDate(raw string) (timeutil.Date, error) {
	if raw == "" {
		return timeutil.Date{}, nil
	}
	return timeutil.ParseDate(raw)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
