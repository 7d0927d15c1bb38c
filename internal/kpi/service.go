package kpi

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/model"
	"semaphore/badging/internal/period"
	"semaphore/badging/internal/session"
)

type Store interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	ListBadgeEvents(ctx context.Context, userID string, from, to time.Time) ([]model.BadgeEvent, error)
	ListApprovedModifications(ctx context.Context, userID string, from, to time.Time) ([]model.ModificationRequest, error)
	ScheduleTable(ctx context.Context) (session.Table, error)
}

type Service struct {
	store    Store
	loc      *time.Location
	calendar *Calendar
	now      func() time.Time
}

func NewService(store Store, loc *time.Location, calendar *Calendar) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if calendar == nil {
		calendar = NewCalendar()
	}
	return &Service{store: store, loc: loc, calendar: calendar, now: time.Now}
}

// SetClock overrides the wall clock, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Compute resolves sel against the current local time and aggregates it.
func (s *Service) Compute(ctx context.Context, sel period.Selector, f Filter) (Summary, error) {
	rng, err := period.Resolve(sel, s.now().In(s.loc))
	if err != nil {
		return Summary{}, err
	}
	kind := sel.Kind
	if kind == "" {
		kind = period.Day
	}
	return s.ComputeRange(ctx, kind, rng, f)
}

func (s *Service) ComputeRange(ctx context.Context, kind period.Kind, rng period.Range, f Filter) (Summary, error) {
	var (
		users  []model.User
		events []model.BadgeEvent
		mods   []model.ModificationRequest
		table  session.Table
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		users, err = s.store.ListUsers(gctx)
		return err
	})
	g.Go(func() (err error) {
		events, err = s.store.ListBadgeEvents(gctx, "", rng.Start, rng.End)
		return err
	})
	g.Go(func() (err error) {
		mods, err = s.store.ListApprovedModifications(gctx, "", rng.Start, rng.End)
		return err
	})
	g.Go(func() (err error) {
		table, err = s.store.ScheduleTable(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, apperr.Unavailable("store_unavailable", err)
	}

	byUser := make(map[string][]model.BadgeEvent)
	for _, ev := range events {
		byUser[ev.UserID] = append(byUser[ev.UserID], ev)
	}
	modsByUser := make(map[string][]model.ModificationRequest)
	for _, m := range mods {
		modsByUser[m.UserID] = append(modsByUser[m.UserID], m)
	}

	sessions := make(map[string][]session.Session, len(byUser))
	for userID, evs := range byUser {
		res := session.Reconcile(evs, s.loc, table)
		sessions[userID] = session.Apply(res.Sessions, modsByUser[userID], s.loc, table)
	}

	return Aggregate(Input{Kind: kind, Range: rng, Users: users, Sessions: sessions}, f, s.calendar), nil
}

// History returns one user's corrected sessions and current state over rng.
func (s *Service) History(ctx context.Context, userID string, rng period.Range) (session.Result, error) {
	var (
		events []model.BadgeEvent
		mods   []model.ModificationRequest
		table  session.Table
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		events, err = s.store.ListBadgeEvents(gctx, userID, rng.Start, rng.End)
		return err
	})
	g.Go(func() (err error) {
		mods, err = s.store.ListApprovedModifications(gctx, userID, rng.Start, rng.End)
		return err
	})
	g.Go(func() (err error) {
		table, err = s.store.ScheduleTable(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return session.Result{}, apperr.Unavailable("store_unavailable", err)
	}
	res := session.Reconcile(events, s.loc, table)
	res.Sessions = session.Apply(res.Sessions, mods, s.loc, table)
	return res, nil
}
