package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/model"
)

type OubliInput struct {
	Entree     time.Time  `json:"date_heure_entree"`
	Sortie     time.Time  `json:"date_heure_sortie"`
	PauseDebut *time.Time `json:"date_heure_pause_debut,omitempty"`
	PauseFin   *time.Time `json:"date_heure_pause_fin,omitempty"`
	Raison     string     `json:"raison"`
	Comment    *string    `json:"commentaire,omitempty"`
	PerteBadge bool       `json:"perte_badge"`
}

// CreateOubli files a forgotten session. Only one oubli per user and local
// day may be pending.
func (s *Service) CreateOubli(ctx context.Context, actor Actor, in OubliInput) (model.OubliRequest, error) {
	req := model.OubliRequest{
		UserID:     actor.UserID,
		Entree:     in.Entree,
		Sortie:     in.Sortie,
		PauseDebut: in.PauseDebut,
		PauseFin:   in.PauseFin,
		Raison:     strings.TrimSpace(in.Raison),
		PerteBadge: in.PerteBadge,
		Status:     model.RequestPending,
		CreatedAt:  s.now().UTC(),
	}
	if in.Comment != nil {
		if c := strings.TrimSpace(*in.Comment); c != "" {
			req.Comment = &c
		}
	}
	if err := s.checkOubli(req); err != nil {
		return model.OubliRequest{}, err
	}

	dayStart := s.dayStart(req.Entree)
	pending, err := s.store.HasPendingOubli(ctx, actor.UserID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return model.OubliRequest{}, apperr.Unavailable("store_unavailable", err)
	}
	if pending {
		return model.OubliRequest{}, apperr.Conflicts(CodePendingExists)
	}
	created, err := s.store.InsertOubli(ctx, req)
	if err != nil {
		return model.OubliRequest{}, s.writeError(err, CodePendingExists)
	}
	s.metrics.Transition("oubli", string(model.RequestPending))
	return created, nil
}

func (s *Service) checkOubli(req model.OubliRequest) error {
	if req.Raison == "" {
		return apperr.Invalid(CodeMissingReason)
	}
	if req.Entree.IsZero() || req.Sortie.IsZero() || !req.Sortie.After(req.Entree) {
		return apperr.Invalid(CodeInvalidTimes)
	}
	if !s.dayStart(req.Entree).Equal(s.dayStart(req.Sortie)) {
		return apperr.Invalid(CodeInvalidTimes)
	}
	if (req.PauseDebut == nil) != (req.PauseFin == nil) {
		return apperr.Invalid(CodeIncompletePause)
	}
	if req.HasPause() {
		debut, fin := *req.PauseDebut, *req.PauseFin
		if debut.Before(req.Entree) || fin.After(req.Sortie) || !fin.After(debut) {
			return apperr.Invalid(CodeInvalidPause)
		}
	}
	return nil
}

func (s *Service) dayStart(t time.Time) time.Time {
	local := t.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
}

// ValidateOubli approves or rejects a pending oubli. Approval appends the
// synthesized events in the same transaction, so a missing badge code
// leaves both the request and the events untouched.
func (s *Service) ValidateOubli(ctx context.Context, actor Actor, requestID string, d Decision) (model.OubliRequest, []model.BadgeEvent, error) {
	if actor.Role != model.RoleAdmin {
		return model.OubliRequest{}, nil, apperr.Denied(CodeForbidden)
	}
	var (
		out    model.OubliRequest
		events []model.BadgeEvent
	)
	err := s.store.WithTx(ctx, func(repo Repository) error {
		events = nil
		req, err := repo.GetOubliForUpdate(ctx, requestID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Broken(CodeNotFound)
		}
		if err != nil {
			return apperr.Unavailable("store_unavailable", err)
		}
		if req.Status != model.RequestPending {
			return apperr.Broken(CodeAlreadyResolved)
		}
		if d.Approve {
			code, err := repo.ActiveBadgeCode(ctx, req.UserID)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return apperr.Unavailable("store_unavailable", err)
			}
			if strings.TrimSpace(code) == "" {
				return apperr.Broken(CodeNoActiveBadge)
			}
			for _, ev := range Synthesize(req, code) {
				stored, err := repo.InsertBadgeEvent(ctx, ev)
				if err != nil {
					return apperr.Unavailable("store_unavailable", err)
				}
				events = append(events, stored)
			}
		}
		v, status := s.validation(actor, d)
		if err := repo.ResolveOubli(ctx, req.ID, status, v); err != nil {
			return s.writeError(err, CodeValidationRace)
		}
		req.Status = status
		req.Validation = &v
		out = req
		return nil
	})
	if err != nil {
		return model.OubliRequest{}, nil, err
	}
	s.metrics.Transition("oubli", string(out.Status))
	s.logger.Printf("oubli %s %s by %s (%d events)", out.ID, out.Status, actor.UserID, len(events))
	return out, events, nil
}

// Synthesize expands an oubli into entrée, optional pause and retour, then
// sortie.
func Synthesize(req model.OubliRequest, code string) []model.BadgeEvent {
	comment := req.Raison
	if req.Comment != nil {
		comment += ": " + *req.Comment
	}
	build := func(action model.Action, at time.Time) model.BadgeEvent {
		c := comment
		return model.BadgeEvent{UserID: req.UserID, At: at, Action: action, Code: code, Comment: &c}
	}
	events := []model.BadgeEvent{build(model.ActionEntree, req.Entree)}
	if req.HasPause() {
		events = append(events,
			build(model.ActionPause, *req.PauseDebut),
			build(model.ActionRetour, *req.PauseFin),
		)
	}
	return append(events, build(model.ActionSortie, req.Sortie))
}

func (s *Service) ListOublis(ctx context.Context, actor Actor, f ListFilter) ([]model.OubliRequest, error) {
	out, err := s.store.ListOublis(ctx, scope(actor, f))
	if err != nil {
		return nil, apperr.Unavailable("store_unavailable", err)
	}
	return out, nil
}
