package badge

import (
	"semaphore/badging/internal/location"
	"semaphore/badging/internal/model"
)

const (
	CodeMissingComment = "missing_comment"
	CodeMissingAction  = "missing_action"
	CodeInvalidAction  = "invalid_action"
	CodeMissingUser    = "missing_identity"
	CodeUserNotFound   = "user_not_found"
	CodeScanInProgress = "scan_in_progress"
)

// fieldAgentPrecision is the number of decimals kept on field agent fixes.
const fieldAgentPrecision = 3

// Decision is what the client must collect before a scan can be written.
type Decision struct {
	// Action is set when the action is forced or implied by a known site.
	Action       model.Action
	Forced       bool
	NeedsAction  bool
	NeedsComment bool
	NeedsFix     bool
	// Precision is the number of decimals kept on a live fix, -1 for all.
	Precision int
	Lieux     *string
	Latitude  *float64
	Longitude *float64
}

// Decide applies the role-gated decision table for one scan.
func Decide(user model.User, verdict location.Verdict) Decision {
	d := Decision{Precision: -1}
	if verdict.Authorized {
		site := verdict.Site
		if site == "" {
			site = model.SiteUnknown
		}
		d.Lieux = &site
		d.Latitude = verdict.Latitude
		d.Longitude = verdict.Longitude
	} else {
		site := model.SiteOffsite
		d.Lieux = &site
	}

	switch user.Role {
	case model.RoleFieldAgent:
		d.Precision = fieldAgentPrecision
		d.NeedsFix = !verdict.Authorized
		if user.FirstBadge() {
			d.Action = model.ActionEntree
			d.Forced = true
		} else {
			d.NeedsAction = true
		}
	case model.RoleManager, model.RoleAdmin:
		if !verdict.Authorized {
			remote := model.SiteRemote
			d.Action = model.ActionEntree
			d.Forced = true
			d.Lieux = &remote
			return d
		}
		d.Action = NextAction(user.Status)
	case model.RoleStandard:
		if verdict.Authorized {
			d.Action = NextAction(user.Status)
		} else {
			d.NeedsAction = true
			d.NeedsComment = true
			d.NeedsFix = true
		}
	}
	return d
}

// NextAction is the action a known site implies from the live status.
func NextAction(status model.LiveStatus) model.Action {
	switch status {
	case model.StatusIn:
		return model.ActionSortie
	case model.StatusOnPause:
		return model.ActionRetour
	default:
		return model.ActionEntree
	}
}
