// Package session groups badge events into entry-to-exit sessions.
package session

import (
	"sort"
	"time"

	"semaphore/badging/internal/model"
)

type Session struct {
	UserID        string    `json:"user_id"`
	EntreeID      string    `json:"entree_id"`
	Day           string    `json:"day"`
	Entree        time.Time `json:"entree"`
	Sortie        time.Time `json:"sortie"`
	PauseMinutes  int       `json:"pause_minutes"`
	DureeMinutes  int       `json:"duree_minutes"`
	RetardMinutes int       `json:"retard_minutes"`
	Lieux         *string   `json:"lieux,omitempty"`
}

// Open is a session that has an entry but no exit yet.
type Open struct {
	EntreeID string     `json:"entree_id"`
	Entree   time.Time  `json:"entree"`
	PausedAt *time.Time `json:"paused_at,omitempty"`
	Lieux    *string    `json:"lieux,omitempty"`
}

type Result struct {
	Sessions []Session        `json:"sessions"`
	Current  *Open            `json:"current,omitempty"`
	Status   model.LiveStatus `json:"status"`
	// Ignored counts orphaned events that did not fit any session.
	Ignored int `json:"ignored"`
}

// Schedule resolves the standard start time of a site on a given day.
type Schedule interface {
	ScheduledStart(site string, day time.Time) (time.Time, bool)
}

type pending struct {
	entree     model.BadgeEvent
	day        string
	pausedAt   *time.Time
	pauseTotal time.Duration
}

// Reconcile walks one user's events in time order. Sessions close on an exit
// within the same local day; an entry left open at a day boundary is dropped.
// Orphan pauses, returns, exits and repeated entries are ignored.
func Reconcile(events []model.BadgeEvent, loc *time.Location, sched Schedule) Result {
	if loc == nil {
		loc = time.UTC
	}
	ordered := make([]model.BadgeEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].At.Before(ordered[j].At)
	})

	res := Result{Sessions: []Session{}, Status: model.StatusNotBadged}
	var open *pending
	for _, ev := range ordered {
		day := dayKey(ev.At, loc)
		if open != nil && open.day != day {
			open = nil
		}
		switch ev.Action {
		case model.ActionEntree:
			if open != nil {
				res.Ignored++
				continue
			}
			open = &pending{entree: ev, day: day}
			res.Status = model.StatusIn
		case model.ActionPause:
			if open == nil || open.pausedAt != nil {
				res.Ignored++
				continue
			}
			pausedAt := ev.At
			open.pausedAt = &pausedAt
			res.Status = model.StatusOnPause
		case model.ActionRetour:
			if open == nil || open.pausedAt == nil {
				res.Ignored++
				continue
			}
			open.pauseTotal += ev.At.Sub(*open.pausedAt)
			open.pausedAt = nil
			res.Status = model.StatusIn
		case model.ActionSortie:
			if open == nil {
				res.Ignored++
				continue
			}
			res.Sessions = append(res.Sessions, closeSession(open, ev, loc, sched))
			open = nil
			res.Status = model.StatusOut
		default:
			res.Ignored++
		}
	}
	if open != nil {
		res.Current = &Open{
			EntreeID: open.entree.ID,
			Entree:   open.entree.At,
			PausedAt: open.pausedAt,
			Lieux:    open.entree.Lieux,
		}
	} else if res.Status != model.StatusNotBadged {
		res.Status = model.StatusOut
	}
	return res
}

func closeSession(open *pending, sortie model.BadgeEvent, loc *time.Location, sched Schedule) Session {
	entree := open.entree
	total := minutes(sortie.At.Sub(entree.At))
	pause := minutes(open.pauseTotal)
	s := Session{
		UserID:       entree.UserID,
		EntreeID:     entree.ID,
		Day:          open.day,
		Entree:       entree.At,
		Sortie:       sortie.At,
		PauseMinutes: pause,
		DureeMinutes: Duration(total, pause),
		Lieux:        entree.Lieux,
	}
	s.RetardMinutes = Lateness(entree, loc, sched)
	return s
}

// Duration is the net worked time, never negative.
func Duration(totalMinutes, pauseMinutes int) int {
	if d := totalMinutes - pauseMinutes; d > 0 {
		return d
	}
	return 0
}

// Lateness is how many minutes the entry came after the site's scheduled
// start, or zero when the site has no schedule.
func Lateness(entree model.BadgeEvent, loc *time.Location, sched Schedule) int {
	if sched == nil || entree.Lieux == nil {
		return 0
	}
	start, ok := sched.ScheduledStart(*entree.Lieux, entree.At.In(loc))
	if !ok {
		return 0
	}
	if late := minutes(entree.At.Sub(start)); late > 0 {
		return late
	}
	return 0
}

func minutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}

// Table maps a site to its standard start, as an offset from local midnight.
type Table map[string]time.Duration

func (t Table) ScheduledStart(site string, day time.Time) (time.Time, bool) {
	offset, ok := t[site]
	if !ok {
		return time.Time{}, false
	}
	y, m, d := day.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return midnight.Add(offset), true
}
