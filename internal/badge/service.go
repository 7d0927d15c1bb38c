package badge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/geo"
	"semaphore/badging/internal/location"
	"semaphore/badging/internal/metrics"
	"semaphore/badging/internal/model"
)

type Store interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByBadgeCode(ctx context.Context, code string) (model.User, error)
	// AppendBadgeEvent inserts event and moves the user's lieux and status
	// in the same transaction.
	AppendBadgeEvent(ctx context.Context, event model.BadgeEvent, status model.LiveStatus, lieux string) (model.BadgeEvent, model.User, error)
}

// Notifier is told about every user row the pipeline changes.
type Notifier interface {
	UserChanged(ctx context.Context, user model.User) error
}

type ScanRequest struct {
	UserID  string
	Code    string
	Address string
	Action  string
	Comment string
	Fix     *geo.Fix
	Source  string
}

type Service struct {
	store       Store
	authorizer  *location.Authorizer
	guard       *Guard
	notifier    Notifier
	geoTimeout  time.Duration
	now         func() time.Time
	logger      *log.Logger
	observeScan func(source string) func(outcome string)
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithGeolocationTimeout(d time.Duration) Option {
	return func(s *Service) { s.geoTimeout = d }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store Store, authorizer *location.Authorizer, guard *Guard, opts ...Option) *Service {
	s := &Service{
		store:       store,
		authorizer:  authorizer,
		guard:       guard,
		geoTimeout:  10 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.Default(),
		observeScan: metrics.Global().ObserveScan,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.guard == nil {
		s.guard = NewGuard(nil, 0, s.logger)
	}
	return s
}

// Verdict exposes the location decision for a caller address.
func (s *Service) Verdict(ctx context.Context, addr string) location.Verdict {
	return s.authorizer.Authorize(ctx, addr)
}

// Preview runs the decision table without writing anything, so clients know
// which inputs to collect.
func (s *Service) Preview(ctx context.Context, req ScanRequest) (Decision, error) {
	user, err := s.identify(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	return Decide(user, s.authorizer.Authorize(ctx, req.Address)), nil
}

func (s *Service) Scan(ctx context.Context, req ScanRequest) (model.BadgeEvent, error) {
	done := s.observeScan(req.Source)
	user, err := s.identify(ctx, req)
	if err != nil {
		done("rejected")
		return model.BadgeEvent{}, err
	}

	event, err := s.guard.Do(ctx, user.ID, func(ctx context.Context) (model.BadgeEvent, error) {
		return s.record(ctx, user, req)
	})
	switch {
	case err == nil:
		done("recorded")
	case apperr.CodeOf(err) == CodeScanInProgress:
		done("duplicate")
	case apperr.KindOf(err) == apperr.Transient:
		done("failed")
	default:
		done("rejected")
	}
	return event, err
}

func (s *Service) record(ctx context.Context, user model.User, req ScanRequest) (model.BadgeEvent, error) {
	flow := NewFlow(user, strings.TrimSpace(req.Code), s.now())
	if err := flow.Authorize(s.authorizer.Authorize(ctx, req.Address)); err != nil {
		return model.BadgeEvent{}, err
	}
	if err := flow.Resolve(req.Action, req.Comment); err != nil {
		return model.BadgeEvent{}, err
	}
	if err := flow.Locate(ctx, geo.Static{Fix: req.Fix}, s.geoTimeout); err != nil {
		return model.BadgeEvent{}, err
	}
	event, err := flow.Event()
	if err != nil {
		return model.BadgeEvent{}, err
	}

	lieux := model.SiteUnknown
	if event.Lieux != nil {
		lieux = *event.Lieux
	}
	stored, updated, err := s.store.AppendBadgeEvent(ctx, event, model.StatusAfter(event.Action), lieux)
	if err != nil {
		return model.BadgeEvent{}, apperr.Unavailable("store_unavailable", fmt.Errorf("badge: append: %w", err))
	}
	s.logger.Printf("badge scan recorded user=%s action=%s lieux=%s", user.ID, stored.Action, lieux)

	if s.notifier != nil {
		if err := s.notifier.UserChanged(ctx, updated); err != nil {
			s.logger.Printf("badge scan notify failed for %s: %v", user.ID, err)
		}
	}
	return stored, nil
}

func (s *Service) identify(ctx context.Context, req ScanRequest) (model.User, error) {
	var (
		user model.User
		err  error
	)
	switch {
	case strings.TrimSpace(req.Code) != "":
		user, err = s.store.GetUserByBadgeCode(ctx, strings.TrimSpace(req.Code))
	case strings.TrimSpace(req.UserID) != "":
		user, err = s.store.GetUser(ctx, strings.TrimSpace(req.UserID))
	default:
		return model.User{}, apperr.Invalid(CodeMissingUser)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, apperr.Missing(CodeUserNotFound)
		}
		return model.User{}, apperr.Unavailable("store_unavailable", fmt.Errorf("badge: identify: %w", err))
	}
	if req.UserID != "" && req.Code != "" && user.ID != strings.TrimSpace(req.UserID) {
		return model.User{}, apperr.Denied("badge_mismatch")
	}
	return user, nil
}
