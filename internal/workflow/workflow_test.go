package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/model"
)

func ptr[T any](v T) *T { return &v }

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

// memStore keeps everything in maps. WithTx works on a copy and swaps it in
// only when fn succeeds.
type memStore struct {
	mu       *sync.Mutex
	state    *memState
	failOn   string
	inserted int
}

type memState struct {
	events  map[string]model.BadgeEvent
	mods    map[string]model.ModificationRequest
	oublis  map[string]model.OubliRequest
	badges  map[string]string
	nextID  int
	ordered []string
}

func newMemStore() *memStore {
	return &memStore{
		mu: &sync.Mutex{},
		state: &memState{
			events: map[string]model.BadgeEvent{},
			mods:   map[string]model.ModificationRequest{},
			oublis: map[string]model.OubliRequest{},
			badges: map[string]string{},
		},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		events:  map[string]model.BadgeEvent{},
		mods:    map[string]model.ModificationRequest{},
		oublis:  map[string]model.OubliRequest{},
		badges:  map[string]string{},
		nextID:  s.nextID,
		ordered: append([]string(nil), s.ordered...),
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.mods {
		c.mods[k] = v
	}
	for k, v := range s.oublis {
		c.oublis[k] = v
	}
	for k, v := range s.badges {
		c.badges[k] = v
	}
	return c
}

func (m *memStore) id(prefix string) string {
	m.state.nextID++
	return fmt.Sprintf("%s%d", prefix, m.state.nextID)
}

func (m *memStore) WithTx(ctx context.Context, fn func(Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memStore{mu: &sync.Mutex{}, state: m.state.clone(), failOn: m.failOn}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *memStore) addEvent(ev model.BadgeEvent) {
	m.state.events[ev.ID] = ev
	m.state.ordered = append(m.state.ordered, ev.ID)
}

func (m *memStore) GetBadgeEvent(_ context.Context, id string) (model.BadgeEvent, error) {
	ev, ok := m.state.events[id]
	if !ok {
		return model.BadgeEvent{}, pgx.ErrNoRows
	}
	return ev, nil
}

func (m *memStore) ListBadgeEvents(_ context.Context, userID string, from, to time.Time) ([]model.BadgeEvent, error) {
	var out []model.BadgeEvent
	for _, id := range m.state.ordered {
		ev := m.state.events[id]
		if ev.UserID == userID && !ev.At.Before(from) && ev.At.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) InsertBadgeEvent(_ context.Context, ev model.BadgeEvent) (model.BadgeEvent, error) {
	m.inserted++
	if m.failOn == "insert_event" && m.inserted > 1 {
		return model.BadgeEvent{}, fmt.Errorf("disk full")
	}
	ev.ID = m.id("ev")
	m.addEvent(ev)
	return ev, nil
}

func (m *memStore) ActiveBadgeCode(_ context.Context, userID string) (string, error) {
	code, ok := m.state.badges[userID]
	if !ok {
		return "", pgx.ErrNoRows
	}
	return code, nil
}

func (m *memStore) HasPendingModification(_ context.Context, entreeID string) (bool, error) {
	for _, r := range m.state.mods {
		if r.EntreeID == entreeID && r.Status == model.RequestPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertModification(_ context.Context, req model.ModificationRequest) (model.ModificationRequest, error) {
	req.ID = m.id("mod")
	m.state.mods[req.ID] = req
	return req, nil
}

func (m *memStore) GetModificationForUpdate(_ context.Context, id string) (model.ModificationRequest, error) {
	r, ok := m.state.mods[id]
	if !ok {
		return model.ModificationRequest{}, pgx.ErrNoRows
	}
	return r, nil
}

func (m *memStore) ResolveModification(_ context.Context, id string, status model.RequestStatus, v model.Validation) error {
	r := m.state.mods[id]
	r.Status = status
	r.Validation = &v
	m.state.mods[id] = r
	return nil
}

func (m *memStore) ListModifications(_ context.Context, f ListFilter) ([]model.ModificationRequest, error) {
	var out []model.ModificationRequest
	for _, r := range m.state.mods {
		if (f.UserID == "" || r.UserID == f.UserID) && (f.Status == "" || r.Status == f.Status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) HasPendingOubli(_ context.Context, userID string, from, to time.Time) (bool, error) {
	for _, r := range m.state.oublis {
		if r.UserID == userID && r.Status == model.RequestPending && !r.Entree.Before(from) && r.Entree.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertOubli(_ context.Context, req model.OubliRequest) (model.OubliRequest, error) {
	req.ID = m.id("oubli")
	m.state.oublis[req.ID] = req
	return req, nil
}

func (m *memStore) GetOubliForUpdate(_ context.Context, id string) (model.OubliRequest, error) {
	r, ok := m.state.oublis[id]
	if !ok {
		return model.OubliRequest{}, pgx.ErrNoRows
	}
	return r, nil
}

func (m *memStore) ResolveOubli(_ context.Context, id string, status model.RequestStatus, v model.Validation) error {
	r := m.state.oublis[id]
	r.Status = status
	r.Validation = &v
	m.state.oublis[id] = r
	return nil
}

func (m *memStore) ListOublis(_ context.Context, f ListFilter) ([]model.OubliRequest, error) {
	var out []model.OubliRequest
	for _, r := range m.state.oublis {
		if (f.UserID == "" || r.UserID == f.UserID) && (f.Status == "" || r.Status == f.Status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) CountPending(context.Context) (int, int, error) {
	mods, oublis := 0, 0
	for _, r := range m.state.mods {
		if r.Status == model.RequestPending {
			mods++
		}
	}
	for _, r := range m.state.oublis {
		if r.Status == model.RequestPending {
			oublis++
		}
	}
	return mods, oublis, nil
}

var (
	alice = Actor{UserID: "alice", Role: model.RoleStandard}
	admin = Actor{UserID: "root", Role: model.RoleAdmin}
)

func seeded() (*memStore, *Service) {
	store := newMemStore()
	store.addEvent(model.BadgeEvent{ID: "in", UserID: "alice", Action: model.ActionEntree, At: at(2, 9, 0)})
	store.addEvent(model.BadgeEvent{ID: "out", UserID: "alice", Action: model.ActionSortie, At: at(2, 17, 0)})
	store.addEvent(model.BadgeEvent{ID: "bob-in", UserID: "bob", Action: model.ActionEntree, At: at(2, 9, 0)})
	store.state.badges["alice"] = "04A1B2"
	svc := NewService(store, WithClock(func() time.Time { return at(3, 8, 0) }))
	return store, svc
}

func TestCreateModification(t *testing.T) {
	_, svc := seeded()
	req, err := svc.CreateModification(context.Background(), alice, ModificationInput{
		EntreeID:       "in",
		ProposedEntree: ptr(at(2, 8, 30)),
		ProposedSortie: ptr(at(2, 17, 0)),
	})
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, req.Status)
	assert.NotNil(t, req.ProposedEntree)
	assert.Nil(t, req.ProposedSortie, "unchanged exit is not part of the proposal")
}

func TestCreateModificationRejectsBadReferences(t *testing.T) {
	_, svc := seeded()
	for name, id := range map[string]string{
		"missing":   "nope",
		"not mine":  "bob-in",
		"not entry": "out",
		"blank":     " ",
	} {
		_, err := svc.CreateModification(context.Background(), alice, ModificationInput{EntreeID: id, PauseDelta: 10})
		assert.ErrorIs(t, err, apperr.Invalid(CodeInvalidEntry), name)
	}
}

func TestCreateModificationRejectsNoOp(t *testing.T) {
	store, svc := seeded()
	_, err := svc.CreateModification(context.Background(), alice, ModificationInput{
		EntreeID:       "in",
		ProposedEntree: ptr(at(2, 9, 0)),
		ProposedSortie: ptr(at(2, 17, 0)),
	})
	assert.ErrorIs(t, err, apperr.Invalid(CodeEmptyRequest))
	assert.Empty(t, store.state.mods)
}

func TestCreateModificationRejectsInvertedTimes(t *testing.T) {
	_, svc := seeded()
	_, err := svc.CreateModification(context.Background(), alice, ModificationInput{
		EntreeID:       "in",
		ProposedSortie: ptr(at(2, 8, 0)),
	})
	assert.ErrorIs(t, err, apperr.Invalid(CodeInvalidTimes))
}

func TestCreateModificationRejectsEntryAfterRecordedExit(t *testing.T) {
	store, svc := seeded()
	for name, entree := range map[string]time.Time{
		"after exit":   at(2, 18, 0),
		"equal exit":   at(2, 17, 0),
		"late evening": at(2, 17, 30),
	} {
		_, err := svc.CreateModification(context.Background(), alice, ModificationInput{
			EntreeID:       "in",
			ProposedEntree: ptr(entree),
		})
		assert.ErrorIs(t, err, apperr.Invalid(CodeInvalidTimes), name)
	}
	assert.Empty(t, store.state.mods)

	req, err := svc.CreateModification(context.Background(), alice, ModificationInput{
		EntreeID:       "in",
		ProposedEntree: ptr(at(2, 18, 0)),
		ProposedSortie: ptr(at(2, 19, 0)),
	})
	require.NoError(t, err, "a new exit after the new entry is accepted")
	assert.NotNil(t, req.ProposedSortie)
}

func TestSecondPendingModificationConflicts(t *testing.T) {
	store, svc := seeded()
	_, err := svc.CreateModification(context.Background(), alice, ModificationInput{EntreeID: "in", Motif: "badge oublié"})
	require.NoError(t, err)
	_, err = svc.CreateModification(context.Background(), alice, ModificationInput{EntreeID: "in", PauseDelta: 15})
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
	assert.Equal(t, CodePendingExists, apperr.CodeOf(err))
	assert.Len(t, store.state.mods, 1)
}

func TestValidateModification(t *testing.T) {
	_, svc := seeded()
	req, err := svc.CreateModification(context.Background(), alice, ModificationInput{EntreeID: "in", PauseDelta: 15})
	require.NoError(t, err)

	_, err = svc.ValidateModification(context.Background(), Actor{UserID: "m", Role: model.RoleManager}, req.ID, Decision{Approve: true})
	assert.ErrorIs(t, err, apperr.Denied(CodeForbidden))

	done, err := svc.ValidateModification(context.Background(), admin, req.ID, Decision{Approve: true, Comment: ptr(" ok ")})
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, done.Status)
	require.NotNil(t, done.Validation)
	assert.Equal(t, "root", done.Validation.ValidatorID)
	assert.Equal(t, "ok", *done.Validation.Comment)

	_, err = svc.ValidateModification(context.Background(), admin, req.ID, Decision{Approve: false})
	assert.ErrorIs(t, err, apperr.Broken(CodeAlreadyResolved))

	_, err = svc.ValidateModification(context.Background(), admin, "missing", Decision{Approve: true})
	assert.ErrorIs(t, err, apperr.Broken(CodeNotFound))

	// Once resolved, a new request for the same entry is allowed.
	_, err = svc.CreateModification(context.Background(), alice, ModificationInput{EntreeID: "in", PauseDelta: 5})
	assert.NoError(t, err)
}

func TestApprovingModificationOfVanishedEntryFails(t *testing.T) {
	store, svc := seeded()
	req, err := svc.CreateModification(context.Background(), alice, ModificationInput{EntreeID: "in", PauseDelta: 15})
	require.NoError(t, err)
	delete(store.state.events, "in")

	_, err = svc.ValidateModification(context.Background(), admin, req.ID, Decision{Approve: true})
	assert.ErrorIs(t, err, apperr.Broken(CodeEntryVanished))
	assert.Equal(t, model.RequestPending, store.state.mods[req.ID].Status)
}

func oubliInput(withPause bool) OubliInput {
	in := OubliInput{Entree: at(5, 9, 0), Sortie: at(5, 17, 0), Raison: "badge oublié"}
	if withPause {
		in.PauseDebut = ptr(at(5, 12, 0))
		in.PauseFin = ptr(at(5, 13, 0))
	}
	return in
}

func TestApproveOubliSynthesizesEvents(t *testing.T) {
	for _, tc := range []struct {
		pause   bool
		actions []model.Action
	}{
		{true, []model.Action{model.ActionEntree, model.ActionPause, model.ActionRetour, model.ActionSortie}},
		{false, []model.Action{model.ActionEntree, model.ActionSortie}},
	} {
		_, svc := seeded()
		req, err := svc.CreateOubli(context.Background(), alice, oubliInput(tc.pause))
		require.NoError(t, err)

		done, events, err := svc.ValidateOubli(context.Background(), admin, req.ID, Decision{Approve: true})
		require.NoError(t, err)
		assert.Equal(t, model.RequestApproved, done.Status)
		require.Len(t, events, len(tc.actions))
		for i, ev := range events {
			assert.Equal(t, tc.actions[i], ev.Action)
			assert.Equal(t, "04A1B2", ev.Code)
			assert.Equal(t, "alice", ev.UserID)
		}
	}
}

func TestApproveOubliWithoutBadgeIsAtomic(t *testing.T) {
	store, svc := seeded()
	delete(store.state.badges, "alice")
	req, err := svc.CreateOubli(context.Background(), alice, oubliInput(true))
	require.NoError(t, err)
	before := len(store.state.events)

	_, _, err = svc.ValidateOubli(context.Background(), admin, req.ID, Decision{Approve: true})
	assert.ErrorIs(t, err, apperr.Broken(CodeNoActiveBadge))
	assert.Equal(t, model.RequestPending, store.state.oublis[req.ID].Status)
	assert.Len(t, store.state.events, before)
}

func TestApproveOubliRollsBackPartialWrites(t *testing.T) {
	store, svc := seeded()
	req, err := svc.CreateOubli(context.Background(), alice, oubliInput(true))
	require.NoError(t, err)
	before := len(store.state.events)
	store.failOn = "insert_event"

	_, _, err = svc.ValidateOubli(context.Background(), admin, req.ID, Decision{Approve: true})
	assert.Equal(t, apperr.Transient, apperr.KindOf(err))
	assert.Len(t, store.state.events, before)
	assert.Equal(t, model.RequestPending, store.state.oublis[req.ID].Status)
}

func TestRejectOubliWritesNoEvents(t *testing.T) {
	store, svc := seeded()
	delete(store.state.badges, "alice")
	req, err := svc.CreateOubli(context.Background(), alice, oubliInput(false))
	require.NoError(t, err)
	before := len(store.state.events)

	done, events, err := svc.ValidateOubli(context.Background(), admin, req.ID, Decision{Approve: false})
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, done.Status)
	assert.Empty(t, events)
	assert.Len(t, store.state.events, before)
}

func TestCreateOubliValidation(t *testing.T) {
	_, svc := seeded()
	cases := map[string]struct {
		mutate func(*OubliInput)
		code   string
	}{
		"no reason":      {func(in *OubliInput) { in.Raison = "  " }, CodeMissingReason},
		"inverted":       {func(in *OubliInput) { in.Sortie = at(5, 8, 0) }, CodeInvalidTimes},
		"two days":       {func(in *OubliInput) { in.Sortie = at(6, 10, 0) }, CodeInvalidTimes},
		"half pause":     {func(in *OubliInput) { in.PauseFin = nil }, CodeIncompletePause},
		"pause outside":  {func(in *OubliInput) { in.PauseDebut = ptr(at(5, 8, 0)) }, CodeInvalidPause},
		"pause inverted": {func(in *OubliInput) { in.PauseFin = ptr(at(5, 11, 0)) }, CodeInvalidPause},
	}
	for name, tc := range cases {
		in := oubliInput(true)
		tc.mutate(&in)
		_, err := svc.CreateOubli(context.Background(), alice, in)
		assert.ErrorIs(t, err, apperr.Invalid(tc.code), name)
	}
}

func TestSecondPendingOubliSameDayConflicts(t *testing.T) {
	_, svc := seeded()
	_, err := svc.CreateOubli(context.Background(), alice, oubliInput(false))
	require.NoError(t, err)
	_, err = svc.CreateOubli(context.Background(), alice, oubliInput(true))
	assert.ErrorIs(t, err, apperr.Conflicts(CodePendingExists))
}

func TestListingIsScopedForNonAdmins(t *testing.T) {
	store, svc := seeded()
	store.state.mods["m1"] = model.ModificationRequest{ID: "m1", UserID: "alice", Status: model.RequestPending}
	store.state.mods["m2"] = model.ModificationRequest{ID: "m2", UserID: "bob", Status: model.RequestPending}

	own, err := svc.ListModifications(context.Background(), alice, ListFilter{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "m1", own[0].ID)

	all, err := svc.ListModifications(context.Background(), admin, ListFilter{Status: model.RequestPending})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := svc.CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Pending{Modifications: 2}, pending)
}
