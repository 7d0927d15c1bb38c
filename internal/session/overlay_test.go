package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/badging/internal/model"
)

func TestApplyApprovedModification(t *testing.T) {
	sessions := Reconcile([]model.BadgeEvent{
		ev("e1", model.ActionEntree, clock(2, 9, 20)),
		ev("e2", model.ActionSortie, clock(2, 17, 0)),
	}, paris, Table{"Kiosk A": 9 * time.Hour}).Sessions
	require.Len(t, sessions, 1)
	require.Equal(t, 20, sessions[0].RetardMinutes)

	requests := []model.ModificationRequest{
		{EntreeID: "e1", Status: model.RequestPending, ProposedEntree: ptr(clock(2, 7, 0))},
		{EntreeID: "e1", Status: model.RequestApproved, ProposedEntree: ptr(clock(2, 9, 0)), PauseDelta: 30,
			Validation: &model.Validation{ValidatedAt: clock(3, 10, 0)}},
		{EntreeID: "other", Status: model.RequestApproved, PauseDelta: 999},
	}
	out := Apply(sessions, requests, paris, Table{"Kiosk A": 9 * time.Hour})
	require.Len(t, out, 1)
	assert.Equal(t, clock(2, 9, 0), out[0].Entree)
	assert.Equal(t, 30, out[0].PauseMinutes)
	assert.Equal(t, 8*60-30, out[0].DureeMinutes)
	assert.Equal(t, 0, out[0].RetardMinutes)

	assert.Equal(t, clock(2, 9, 20), sessions[0].Entree, "input must not be mutated")
}

func TestApplyClampsPause(t *testing.T) {
	sessions := []Session{{EntreeID: "e1", Entree: clock(2, 9, 0), Sortie: clock(2, 10, 0), PauseMinutes: 10, DureeMinutes: 50}}
	out := Apply(sessions, []model.ModificationRequest{
		{EntreeID: "e1", Status: model.RequestApproved, PauseDelta: -45},
	}, paris, nil)
	assert.Equal(t, 0, out[0].PauseMinutes)
	assert.Equal(t, 60, out[0].DureeMinutes)
}

func TestApplyLatestApprovalWins(t *testing.T) {
	sessions := []Session{{EntreeID: "e1", Entree: clock(2, 9, 0), Sortie: clock(2, 17, 0)}}
	out := Apply(sessions, []model.ModificationRequest{
		{EntreeID: "e1", Status: model.RequestApproved, ProposedSortie: ptr(clock(2, 18, 0)),
			Validation: &model.Validation{ValidatedAt: clock(4, 9, 0)}},
		{EntreeID: "e1", Status: model.RequestApproved, ProposedSortie: ptr(clock(2, 16, 0)),
			Validation: &model.Validation{ValidatedAt: clock(3, 9, 0)}},
	}, paris, nil)
	assert.Equal(t, clock(2, 18, 0), out[0].Sortie)
}
