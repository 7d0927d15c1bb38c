package badge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/geo"
	"semaphore/badging/internal/location"
	"semaphore/badging/internal/model"
)

func ptr[T any](v T) *T { return &v }

var (
	kiosk      = location.Verdict{Authorized: true, Site: "Kiosk A", Latitude: ptr(48.8566), Longitude: ptr(2.3522)}
	unknownNet = location.Verdict{}
	at         = time.Date(2026, 3, 2, 8, 55, 0, 0, time.UTC)
)

func TestDecideFieldAgentFirstBadgeIsForcedEntree(t *testing.T) {
	user := model.User{ID: "u1", Role: model.RoleFieldAgent}
	for _, verdict := range []location.Verdict{kiosk, unknownNet} {
		for _, choice := range []string{"", "sortie", "pause", "retour", "entrée"} {
			flow := NewFlow(user, "B-1", at)
			require.NoError(t, flow.Authorize(verdict))
			require.NoError(t, flow.Resolve(choice, "ignored"))
			assert.Equal(t, model.ActionEntree, flow.Action, "choice %q", choice)
			assert.Empty(t, flow.Comment)
		}
	}
}

func TestDecideFieldAgentAfterFirstBadgeNeedsAction(t *testing.T) {
	user := model.User{ID: "u1", Role: model.RoleFieldAgent, Lieux: ptr("Kiosk A"), Status: model.StatusIn}

	flow := NewFlow(user, "B-1", at)
	require.NoError(t, flow.Authorize(kiosk))
	err := flow.Resolve("", "")
	assert.Equal(t, CodeMissingAction, apperr.CodeOf(err))
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	require.NoError(t, flow.Resolve("pause", ""))
	assert.Equal(t, model.ActionPause, flow.Action)
}

func TestDecideFieldAgentOffsiteRoundsFix(t *testing.T) {
	user := model.User{ID: "u1", Role: model.RoleFieldAgent, Lieux: ptr("Kiosk A")}

	flow := NewFlow(user, "B-1", at)
	require.NoError(t, flow.Authorize(unknownNet))
	require.NoError(t, flow.Resolve("entrée", ""))
	fix := geo.Fix{Latitude: 45.764043, Longitude: 4.835659}
	require.NoError(t, flow.Locate(context.Background(), geo.Static{Fix: &fix}, time.Second))

	event, err := flow.Event()
	require.NoError(t, err)
	assert.Equal(t, 45.764, *event.Latitude)
	assert.Equal(t, 4.836, *event.Longitude)
	assert.Equal(t, model.SiteOffsite, *event.Lieux)
}

func TestDecideManagerOffsiteIsRemoteEntree(t *testing.T) {
	for _, role := range []model.Role{model.RoleManager, model.RoleAdmin} {
		user := model.User{ID: "m1", Role: role, Lieux: ptr("HQ"), Status: model.StatusIn}

		d := Decide(user, unknownNet)
		assert.True(t, d.Forced)
		assert.Equal(t, model.ActionEntree, d.Action)
		assert.False(t, d.NeedsComment)
		assert.False(t, d.NeedsFix)
		assert.False(t, d.NeedsAction)

		flow := NewFlow(user, "B-2", at)
		require.NoError(t, flow.Authorize(unknownNet))
		require.NoError(t, flow.Resolve("sortie", "working from home"))
		require.NoError(t, flow.Locate(context.Background(), geo.Static{}, time.Second))
		event, err := flow.Event()
		require.NoError(t, err)
		assert.Equal(t, model.ActionEntree, event.Action)
		assert.Equal(t, model.SiteRemote, *event.Lieux)
		assert.Nil(t, event.Comment)
		assert.Nil(t, event.Latitude)
	}
}

func TestDecideKnownSiteImpliesNextAction(t *testing.T) {
	cases := map[model.LiveStatus]model.Action{
		model.StatusNotBadged: model.ActionEntree,
		model.StatusOut:       model.ActionEntree,
		model.StatusIn:        model.ActionSortie,
		model.StatusOnPause:   model.ActionRetour,
	}
	for _, role := range []model.Role{model.RoleStandard, model.RoleManager, model.RoleAdmin} {
		for status, expected := range cases {
			user := model.User{ID: "u", Role: role, Lieux: ptr("Kiosk A"), Status: status}
			d := Decide(user, kiosk)
			assert.Equal(t, expected, d.Action)
			assert.False(t, d.NeedsFix)
			assert.False(t, d.NeedsComment)
			assert.Equal(t, "Kiosk A", *d.Lieux)
		}
	}
}

func TestDecideStandardOffsiteNeedsCommentAndFix(t *testing.T) {
	user := model.User{ID: "s1", Role: model.RoleStandard, Lieux: ptr("Kiosk A")}

	flow := NewFlow(user, "B-3", at)
	require.NoError(t, flow.Authorize(unknownNet))
	assert.Equal(t, CodeMissingAction, apperr.CodeOf(flow.Resolve("", "client visit")))
	assert.Equal(t, CodeMissingComment, apperr.CodeOf(flow.Resolve("entrée", "  ")))
	require.NoError(t, flow.Resolve("entrée", "client visit"))

	err := flow.Locate(context.Background(), geo.Static{}, 50*time.Millisecond)
	assert.Equal(t, geo.CodeUnavailable, apperr.CodeOf(err))
	assert.Equal(t, StageResolved, flow.Stage)

	fix := geo.Fix{Latitude: 45.764043, Longitude: 4.835659}
	require.NoError(t, flow.Locate(context.Background(), geo.Static{Fix: &fix}, time.Second))
	event, err := flow.Event()
	require.NoError(t, err)
	assert.Equal(t, 45.764043, *event.Latitude)
	assert.Equal(t, "client visit", *event.Comment)
}

func TestFailOpenVerdictNeedsNoFix(t *testing.T) {
	user := model.User{ID: "s1", Role: model.RoleStandard, Lieux: ptr("Kiosk A"), Status: model.StatusIn}
	d := Decide(user, location.Verdict{Authorized: true})
	assert.Equal(t, model.ActionSortie, d.Action)
	assert.False(t, d.NeedsFix)
	assert.Equal(t, model.SiteUnknown, *d.Lieux)
}

func TestFlowRejectsStepsOutOfOrder(t *testing.T) {
	flow := NewFlow(model.User{ID: "u"}, "", at)
	err := flow.Resolve("entrée", "")
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	_, err = flow.Event()
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	require.NoError(t, flow.Authorize(kiosk))
	assert.True(t, errors.Is(flow.Authorize(kiosk), ErrOutOfOrder))
}

func TestFlowUsesUserBadgeCodeWhenNoneScanned(t *testing.T) {
	flow := NewFlow(model.User{ID: "u", BadgeCode: "0042"}, "", at)
	assert.Equal(t, "0042", flow.Code)
}
