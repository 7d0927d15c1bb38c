package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/badge"
	"semaphore/badging/internal/geo"
	"semaphore/badging/internal/kpi"
	"semaphore/badging/internal/model"
	"semaphore/badging/internal/period"
	"semaphore/badging/internal/workflow"
)

// Badging

func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.badges.Verdict(r.Context(), s.clientAddress(r)))
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	decision, err := s.badges.Preview(r.Context(), badge.ScanRequest{
		UserID:  claims.UserID,
		Address: s.clientAddress(r),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type badgeRequest struct {
	Code      string   `json:"code"`
	Action    string   `json:"type_action"`
	Comment   string   `json:"commentaire"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (s *Server) handleBadge(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req badgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	scan := badge.ScanRequest{
		UserID:  claims.UserID,
		Code:    req.Code,
		Address: s.clientAddress(r),
		Action:  req.Action,
		Comment: req.Comment,
		Source:  "http",
	}
	if req.Latitude != nil && req.Longitude != nil {
		scan.Fix = &geo.Fix{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}
	event, err := s.badges.Scan(r.Context(), scan)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// Sessions

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		userID = claims.UserID
	}
	if userID != claims.UserID && !claims.Role.Privileged() {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	_, rng, err := s.rangeFromQuery(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	result, err := s.kpis.History(r.Context(), userID, rng)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// rangeFromQuery reads either an explicit start/end pair of local dates or a
// period selector.
func (s *Server) rangeFromQuery(r *http.Request) (period.Kind, period.Range, error) {
	q := r.URL.Query()
	start, end := strings.TrimSpace(q.Get("start")), strings.TrimSpace(q.Get("end"))
	if start != "" || end != "" {
		from, err := time.ParseInLocation("2006-01-02", start, s.loc)
		if err != nil {
			return "", period.Range{}, apperr.Invalid("invalid_start")
		}
		to, err := time.ParseInLocation("2006-01-02", end, s.loc)
		if err != nil {
			return "", period.Range{}, apperr.Invalid("invalid_end")
		}
		to = to.AddDate(0, 0, 1)
		if !to.After(from) {
			return "", period.Range{}, apperr.Invalid("invalid_range")
		}
		return period.Custom, period.Range{Start: from, End: to}, nil
	}
	sel, err := period.Parse(q.Get("period"), q.Get("week"), q.Get("month"), q.Get("year"))
	if err != nil {
		return "", period.Range{}, err
	}
	rng, err := period.Resolve(sel, s.now().In(s.loc))
	if err != nil {
		return "", period.Range{}, err
	}
	return sel.Kind, rng, nil
}

// Requests

type validationRequest struct {
	Approve bool    `json:"approve"`
	Comment *string `json:"commentaire"`
}

func (s *Server) handleCreateModification(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req workflow.ModificationInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	created, err := s.requests.CreateModification(r.Context(), actorFrom(claims), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListModifications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	filter, ok := listFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}
	rows, err := s.requests.ListModifications(r.Context(), actorFrom(claims), filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if limit := parseLimit(r, 200); len(rows) > limit {
		rows = rows[:limit]
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleValidateModification(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req validationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	resolved, err := s.requests.ValidateModification(r.Context(), actorFrom(claims), chi.URLParam(r, "requestId"), workflow.Decision{
		Approve: req.Approve,
		Comment: req.Comment,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (s *Server) handleCreateOubli(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req workflow.OubliInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	created, err := s.requests.CreateOubli(r.Context(), actorFrom(claims), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListOublis(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	filter, ok := listFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}
	rows, err := s.requests.ListOublis(r.Context(), actorFrom(claims), filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if limit := parseLimit(r, 200); len(rows) > limit {
		rows = rows[:limit]
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleValidateOubli(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req validationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	resolved, events, err := s.requests.ValidateOubli(r.Context(), actorFrom(claims), chi.URLParam(r, "requestId"), workflow.Decision{
		Approve: req.Approve,
		Comment: req.Comment,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	if events == nil {
		events = []model.BadgeEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request": resolved,
		"events":  events,
	})
}

func (s *Server) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims.Role != model.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	pending, err := s.requests.CountPending(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func listFilter(r *http.Request) (workflow.ListFilter, bool) {
	status, ok := parseStatus(r.URL.Query().Get("status"))
	if !ok {
		return workflow.ListFilter{}, false
	}
	return workflow.ListFilter{
		UserID: strings.TrimSpace(r.URL.Query().Get("userId")),
		Status: status,
	}, true
}

// KPI

func (s *Server) handleKpi(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := kpi.Filter{
		Service: strings.TrimSpace(q.Get("service")),
		Role:    strings.TrimSpace(q.Get("role")),
		Search:  strings.TrimSpace(q.Get("search")),
	}
	kind, rng, err := s.rangeFromQuery(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if kind == period.Day && filter == (kpi.Filter{}) {
		if cached, ok, err := s.kpiCache.Load(r.Context(), kind, rng); err == nil && ok {
			w.Header().Set("X-Cache", "hit")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}
	summary, err := s.kpis.ComputeRange(r.Context(), kind, rng, filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Users

type assignBadgeRequest struct {
	BadgeCode string `json:"numero_badge"`
}

func (s *Server) handleAssignBadge(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims.Role != model.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req assignBadgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	user, err := s.store.Queries.SetBadgeCode(r.Context(), chi.URLParam(r, "userId"), strings.TrimSpace(req.BadgeCode))
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.notifyUserChanged(r.Context(), user)
	writeJSON(w, http.StatusOK, user)
}

// notifyUserChanged pushes a badge reassignment to live views. The
// assignment is already stored, so a failed push is only logged.
func (s *Server) notifyUserChanged(ctx context.Context, user model.User) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.UserChanged(ctx, user); err != nil {
		s.logger.Printf("user %s change notify failed: %v", user.ID, err)
	}
}
