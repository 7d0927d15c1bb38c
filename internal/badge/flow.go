package badge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/geo"
	"semaphore/badging/internal/location"
	"semaphore/badging/internal/model"
)

type Stage int

const (
	StageIdentified Stage = iota + 1
	StageAuthorized
	StageResolved
	StageLocated
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageIdentified:
		return "identified"
	case StageAuthorized:
		return "authorized"
	case StageResolved:
		return "resolved"
	case StageLocated:
		return "located"
	case StageReady:
		return "ready"
	default:
		return "unknown"
	}
}

var ErrOutOfOrder = errors.New("badge: flow step out of order")

// Flow carries one scan through the pipeline. Each step moves it to the
// next stage and refuses to run from any other stage.
type Flow struct {
	Stage    Stage
	User     model.User
	Code     string
	At       time.Time
	Verdict  location.Verdict
	Decision Decision
	Action   model.Action
	Comment  string
	Fix      *geo.Fix
}

func NewFlow(user model.User, code string, at time.Time) *Flow {
	if code == "" {
		code = user.BadgeCode
	}
	return &Flow{Stage: StageIdentified, User: user, Code: code, At: at}
}

func (f *Flow) advance(from, to Stage) error {
	if f.Stage != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrOutOfOrder, from, to, f.Stage)
	}
	f.Stage = to
	return nil
}

func (f *Flow) Authorize(verdict location.Verdict) error {
	if err := f.advance(StageIdentified, StageAuthorized); err != nil {
		return err
	}
	f.Verdict = verdict
	f.Decision = Decide(f.User, verdict)
	return nil
}

// Resolve settles the action and comment. A forced action ignores the
// user's choice and drops any comment.
func (f *Flow) Resolve(choice string, comment string) error {
	if f.Stage != StageAuthorized {
		return fmt.Errorf("%w: resolve from %s", ErrOutOfOrder, f.Stage)
	}
	d := f.Decision
	comment = strings.TrimSpace(comment)

	switch {
	case d.Forced:
		f.Action = d.Action
		comment = ""
	case strings.TrimSpace(choice) != "":
		action, ok := model.ParseAction(choice)
		if !ok {
			return apperr.Invalid(CodeInvalidAction)
		}
		f.Action = action
	case d.NeedsAction:
		return apperr.Invalid(CodeMissingAction)
	default:
		f.Action = d.Action
	}
	if d.NeedsComment && comment == "" {
		return apperr.Invalid(CodeMissingComment)
	}
	f.Comment = comment
	f.Stage = StageResolved
	return nil
}

// Locate captures coordinates: the site's own when known, a live fix
// otherwise. Only a live fix is bounded by timeout.
func (f *Flow) Locate(ctx context.Context, provider geo.Provider, timeout time.Duration) error {
	if f.Stage != StageResolved {
		return fmt.Errorf("%w: locate from %s", ErrOutOfOrder, f.Stage)
	}
	d := f.Decision
	if d.NeedsFix {
		fix, err := geo.Locate(ctx, provider, timeout)
		if err != nil {
			return err
		}
		fix = fix.Round(d.Precision)
		f.Fix = &fix
	} else if d.Latitude != nil && d.Longitude != nil {
		f.Fix = &geo.Fix{Latitude: *d.Latitude, Longitude: *d.Longitude}
	}
	f.Stage = StageLocated
	return nil
}

// Event builds the payload to append. It is the last step of the flow.
func (f *Flow) Event() (model.BadgeEvent, error) {
	if err := f.advance(StageLocated, StageReady); err != nil {
		return model.BadgeEvent{}, err
	}
	event := model.BadgeEvent{
		UserID: f.User.ID,
		At:     f.At,
		Action: f.Action,
		Code:   f.Code,
		Lieux:  f.Decision.Lieux,
	}
	if f.Fix != nil {
		lat, lng := f.Fix.Latitude, f.Fix.Longitude
		event.Latitude = &lat
		event.Longitude = &lng
	}
	if f.Comment != "" {
		comment := f.Comment
		event.Comment = &comment
	}
	return event, nil
}
