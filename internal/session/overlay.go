package session

import (
	"time"

	"semaphore/badging/internal/model"
)

// Apply overlays approved modification requests on reconciled sessions.
// Events are never rewritten; corrections only change what is reported.
func Apply(sessions []Session, requests []model.ModificationRequest, loc *time.Location, sched Schedule) []Session {
	approved := make(map[string]model.ModificationRequest, len(requests))
	for _, req := range requests {
		if req.Status != model.RequestApproved {
			continue
		}
		// Later approvals for the same entry supersede earlier ones.
		if prev, ok := approved[req.EntreeID]; ok && !validatedAfter(req, prev) {
			continue
		}
		approved[req.EntreeID] = req
	}
	if len(approved) == 0 {
		return sessions
	}

	out := make([]Session, len(sessions))
	for i, s := range sessions {
		req, ok := approved[s.EntreeID]
		if !ok {
			out[i] = s
			continue
		}
		if req.ProposedEntree != nil {
			s.Entree = *req.ProposedEntree
		}
		if req.ProposedSortie != nil {
			s.Sortie = *req.ProposedSortie
		}
		s.PauseMinutes += req.PauseDelta
		if s.PauseMinutes < 0 {
			s.PauseMinutes = 0
		}
		s.DureeMinutes = Duration(minutes(s.Sortie.Sub(s.Entree)), s.PauseMinutes)
		s.RetardMinutes = Lateness(model.BadgeEvent{At: s.Entree, Lieux: s.Lieux}, loc, sched)
		out[i] = s
	}
	return out
}

func validatedAfter(a, b model.ModificationRequest) bool {
	if a.Validation == nil || b.Validation == nil {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Validation.ValidatedAt.After(b.Validation.ValidatedAt)
}
