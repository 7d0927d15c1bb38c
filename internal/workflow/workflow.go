// Package workflow runs correction requests through pending, approved and
// rejected. Approved and rejected are final.
package workflow

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/metrics"
	"semaphore/badging/internal/model"
	"semaphore/badging/internal/session"
)

const (
	CodeInvalidEntry    = "invalid_entry_reference"
	CodeEmptyRequest    = "empty_request"
	CodeInvalidTimes    = "invalid_times"
	CodeIncompletePause = "incomplete_pause"
	CodeInvalidPause    = "invalid_pause"
	CodeMissingReason   = "missing_reason"
	CodePendingExists   = "pending_request_exists"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "request_not_found"
	CodeAlreadyResolved = "request_already_resolved"
	CodeEntryVanished   = "entry_vanished"
	CodeNoActiveBadge   = "no_active_badge"
	CodeValidationRace  = "validation_conflict"
)

type ListFilter struct {
	UserID string
	Status model.RequestStatus
}

// Repository is the persistence the workflow needs. Inside WithTx the
// ForUpdate reads lock the request row.
type Repository interface {
	GetBadgeEvent(ctx context.Context, id string) (model.BadgeEvent, error)
	ListBadgeEvents(ctx context.Context, userID string, from, to time.Time) ([]model.BadgeEvent, error)
	InsertBadgeEvent(ctx context.Context, event model.BadgeEvent) (model.BadgeEvent, error)
	ActiveBadgeCode(ctx context.Context, userID string) (string, error)

	HasPendingModification(ctx context.Context, entreeID string) (bool, error)
	InsertModification(ctx context.Context, req model.ModificationRequest) (model.ModificationRequest, error)
	GetModificationForUpdate(ctx context.Context, id string) (model.ModificationRequest, error)
	ResolveModification(ctx context.Context, id string, status model.RequestStatus, v model.Validation) error
	ListModifications(ctx context.Context, f ListFilter) ([]model.ModificationRequest, error)

	HasPendingOubli(ctx context.Context, userID string, from, to time.Time) (bool, error)
	InsertOubli(ctx context.Context, req model.OubliRequest) (model.OubliRequest, error)
	GetOubliForUpdate(ctx context.Context, id string) (model.OubliRequest, error)
	ResolveOubli(ctx context.Context, id string, status model.RequestStatus, v model.Validation) error
	ListOublis(ctx context.Context, f ListFilter) ([]model.OubliRequest, error)

	CountPending(ctx context.Context) (modifications int, oublis int, err error)
}

type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Role   model.Role
}

// Decision is a validator's verdict on a pending request.
type Decision struct {
	Approve bool
	Comment *string
}

type Service struct {
	store   Store
	loc     *time.Location
	now     func() time.Time
	logger  *log.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		loc:     time.UTC,
		now:     time.Now,
		logger:  log.Default(),
		metrics: metrics.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ModificationInput struct {
	EntreeID       string     `json:"entree_id"`
	ProposedEntree *time.Time `json:"proposed_entree,omitempty"`
	ProposedSortie *time.Time `json:"proposed_sortie,omitempty"`
	PauseDelta     int        `json:"pause_delta_minutes"`
	Motif          string     `json:"motif,omitempty"`
	Comment        string     `json:"commentaire,omitempty"`
}

// CreateModification files a correction against one of the actor's entry
// events. A request that changes nothing is rejected and not stored.
func (s *Service) CreateModification(ctx context.Context, actor Actor, in ModificationInput) (model.ModificationRequest, error) {
	entreeID := strings.TrimSpace(in.EntreeID)
	if entreeID == "" {
		return model.ModificationRequest{}, apperr.Invalid(CodeInvalidEntry)
	}
	entree, err := s.store.GetBadgeEvent(ctx, entreeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ModificationRequest{}, apperr.Invalid(CodeInvalidEntry)
	}
	if err != nil {
		return model.ModificationRequest{}, apperr.Unavailable("store_unavailable", err)
	}
	if entree.UserID != actor.UserID || entree.Action != model.ActionEntree {
		return model.ModificationRequest{}, apperr.Invalid(CodeInvalidEntry)
	}

	original, err := s.sessionFor(ctx, entree)
	if err != nil {
		return model.ModificationRequest{}, err
	}
	req := model.ModificationRequest{
		UserID:     actor.UserID,
		EntreeID:   entree.ID,
		PauseDelta: in.PauseDelta,
		Motif:      strings.TrimSpace(in.Motif),
		Comment:    strings.TrimSpace(in.Comment),
		Status:     model.RequestPending,
		CreatedAt:  s.now().UTC(),
	}
	changed := req.PauseDelta != 0 || req.Motif != "" || req.Comment != ""
	if in.ProposedEntree != nil && !in.ProposedEntree.Equal(entree.At) {
		req.ProposedEntree = in.ProposedEntree
		changed = true
	}
	if in.ProposedSortie != nil && (original == nil || !in.ProposedSortie.Equal(original.Sortie)) {
		req.ProposedSortie = in.ProposedSortie
		changed = true
	}
	if !changed {
		return model.ModificationRequest{}, apperr.Invalid(CodeEmptyRequest)
	}
	start := entree.At
	if req.ProposedEntree != nil {
		start = *req.ProposedEntree
	}
	var end *time.Time
	switch {
	case req.ProposedSortie != nil:
		end = req.ProposedSortie
	case original != nil:
		end = &original.Sortie
	}
	if end != nil && !end.After(start) {
		return model.ModificationRequest{}, apperr.Invalid(CodeInvalidTimes)
	}

	pending, err := s.store.HasPendingModification(ctx, entree.ID)
	if err != nil {
		return model.ModificationRequest{}, apperr.Unavailable("store_unavailable", err)
	}
	if pending {
		return model.ModificationRequest{}, apperr.Conflicts(CodePendingExists)
	}
	created, err := s.store.InsertModification(ctx, req)
	if err != nil {
		return model.ModificationRequest{}, s.writeError(err, CodePendingExists)
	}
	s.metrics.Transition("modification", string(model.RequestPending))
	return created, nil
}

// sessionFor finds the reconciled session opened by entree, if it closed.
func (s *Service) sessionFor(ctx context.Context, entree model.BadgeEvent) (*session.Session, error) {
	local := entree.At.In(s.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	events, err := s.store.ListBadgeEvents(ctx, entree.UserID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, apperr.Unavailable("store_unavailable", err)
	}
	for _, sess := range session.Reconcile(events, s.loc, nil).Sessions {
		if sess.EntreeID == entree.ID {
			return &sess, nil
		}
	}
	return nil, nil
}

// ValidateModification approves or rejects a pending modification. Only
// administrators validate.
func (s *Service) ValidateModification(ctx context.Context, actor Actor, requestID string, d Decision) (model.ModificationRequest, error) {
	if actor.Role != model.RoleAdmin {
		return model.ModificationRequest{}, apperr.Denied(CodeForbidden)
	}
	var out model.ModificationRequest
	err := s.store.WithTx(ctx, func(repo Repository) error {
		req, err := repo.GetModificationForUpdate(ctx, requestID)
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
			if _, err := repo.GetBadgeEvent(ctx, req.EntreeID); errors.Is(err, pgx.ErrNoRows) {
				return apperr.Broken(CodeEntryVanished)
			} else if err != nil {
				return apperr.Unavailable("store_unavailable", err)
			}
		}
		v, status := s.validation(actor, d)
		if err := repo.ResolveModification(ctx, req.ID, status, v); err != nil {
			return s.writeError(err, CodeValidationRace)
		}
		req.Status = status
		req.Validation = &v
		out = req
		return nil
	})
	if err != nil {
		return model.ModificationRequest{}, err
	}
	s.metrics.Transition("modification", string(out.Status))
	s.logger.Printf("modification %s %s by %s", out.ID, out.Status, actor.UserID)
	return out, nil
}

func (s *Service) ListModifications(ctx context.Context, actor Actor, f ListFilter) ([]model.ModificationRequest, error) {
	out, err := s.store.ListModifications(ctx, scope(actor, f))
	if err != nil {
		return nil, apperr.Unavailable("store_unavailable", err)
	}
	return out, nil
}

type Pending struct {
	Modifications int `json:"modifications"`
	Oublis        int `json:"oublis"`
}

func (s *Service) CountPending(ctx context.Context) (Pending, error) {
	mods, oublis, err := s.store.CountPending(ctx)
	if err != nil {
		return Pending{}, apperr.Unavailable("store_unavailable", err)
	}
	s.metrics.Pending("modification", mods)
	s.metrics.Pending("oubli", oublis)
	return Pending{Modifications: mods, Oublis: oublis}, nil
}

func (s *Service) validation(actor Actor, d Decision) (model.Validation, model.RequestStatus) {
	v := model.Validation{
		ValidatorID: actor.UserID,
		ValidatedAt: s.now().UTC(),
		Approved:    d.Approve,
	}
	if d.Comment != nil {
		if c := strings.TrimSpace(*d.Comment); c != "" {
			v.Comment = &c
		}
	}
	if d.Approve {
		return v, model.RequestApproved
	}
	return v, model.RequestRejected
}

// writeError keeps classified errors and recodes conflicts raised by the
// store's unique constraints.
func (s *Service) writeError(err error, conflictCode string) error {
	switch apperr.KindOf(err) {
	case apperr.Conflict:
		return apperr.Wrap(apperr.Conflict, conflictCode, err)
	case apperr.Transient:
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Unavailable("store_unavailable", err)
	default:
		return err
	}
}

// scope restricts non-administrators to their own requests.
func scope(actor Actor, f ListFilter) ListFilter {
	if actor.Role != model.RoleAdmin {
		f.UserID = actor.UserID
	}
	return f
}
