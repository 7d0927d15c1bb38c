// Package kpi folds reconciled sessions into dashboard figures.
package kpi

import (
	"math"
	"sort"
	"strings"

	"semaphore/badging/internal/model"
	"semaphore/badging/internal/period"
	"semaphore/badging/internal/session"
)

type Filter struct {
	Service string `json:"service,omitempty"`
	Role    string `json:"role,omitempty"`
	Search  string `json:"search,omitempty"`
}

func (f Filter) Match(u model.User) bool {
	if f.Service != "" && !strings.EqualFold(strings.TrimSpace(f.Service), strings.TrimSpace(u.Service)) {
		return false
	}
	if f.Role != "" && model.ParseRole(f.Role) != u.Role {
		return false
	}
	if needle := strings.ToLower(strings.TrimSpace(f.Search)); needle != "" {
		haystack := strings.ToLower(u.FirstName + " " + u.LastName + " " + u.Email)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

type Presence struct {
	In        int `json:"entre"`
	OnPause   int `json:"en_pause"`
	Out       int `json:"sorti"`
	NotBadged int `json:"non_badge"`
}

type UserKpi struct {
	UserID          string           `json:"user_id"`
	FirstName       string           `json:"first_name"`
	LastName        string           `json:"last_name"`
	Service         string           `json:"service,omitempty"`
	Status          model.LiveStatus `json:"status"`
	Sessions        int              `json:"sessions"`
	WorkedMinutes   int              `json:"worked_minutes"`
	PauseMinutes    int              `json:"pause_minutes"`
	LatenessMinutes int              `json:"lateness_minutes"`
	ExpectedMinutes *int             `json:"expected_minutes"`
	Performance     *int             `json:"performance"`
}

type Summary struct {
	Period               period.Kind  `json:"period"`
	Range                period.Range `json:"range"`
	Presence             *Presence    `json:"presence,omitempty"`
	Users                int          `json:"users"`
	Sessions             int          `json:"sessions"`
	CumulativeLateness   int          `json:"cumulative_lateness"`
	AverageWorkedMinutes int          `json:"average_worked_minutes"`
	AveragePauseMinutes  int          `json:"average_pause_minutes"`
	PunctualityRate      *int         `json:"punctuality_rate"`
	Performance          *int         `json:"performance"`
	PerUser              []UserKpi    `json:"per_user"`
}

type Input struct {
	Kind     period.Kind
	Range    period.Range
	Users    []model.User
	Sessions map[string][]session.Session
}

// Aggregate computes the summary over the users matching f. Averages are
// per session. Punctuality counts users with at least one session.
func Aggregate(in Input, f Filter, cal *Calendar) Summary {
	sum := Summary{Period: in.Kind, Range: in.Range, PerUser: []UserKpi{}}
	if in.Kind == period.Day {
		sum.Presence = &Presence{}
	}

	var (
		worked, pause      int
		expected, achieved int
		active, punctual   int
	)
	for _, u := range in.Users {
		if !f.Match(u) {
			continue
		}
		sum.Users++
		row := UserKpi{
			UserID:    u.ID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Service:   u.Service,
			Status:    u.Status,
		}
		if row.Status == "" {
			row.Status = model.StatusNotBadged
		}
		for _, s := range in.Sessions[u.ID] {
			if !in.Range.Contains(s.Entree) {
				continue
			}
			row.Sessions++
			row.WorkedMinutes += s.DureeMinutes
			row.PauseMinutes += s.PauseMinutes
			row.LatenessMinutes += s.RetardMinutes
		}
		if u.ContractHours != nil && *u.ContractHours > 0 {
			exp := cal.ExpectedMinutes(*u.ContractHours, in.Range)
			if exp > 0 {
				row.ExpectedMinutes = &exp
				row.Performance = percent(row.WorkedMinutes, exp)
				expected += exp
				achieved += row.WorkedMinutes
			}
		}
		if sum.Presence != nil {
			countPresence(sum.Presence, row.Status)
		}

		sum.Sessions += row.Sessions
		sum.CumulativeLateness += row.LatenessMinutes
		worked += row.WorkedMinutes
		pause += row.PauseMinutes
		if row.Sessions > 0 {
			active++
			if row.LatenessMinutes == 0 {
				punctual++
			}
		}
		sum.PerUser = append(sum.PerUser, row)
	}

	if sum.Sessions > 0 {
		sum.AverageWorkedMinutes = roundDiv(worked, sum.Sessions)
		sum.AveragePauseMinutes = roundDiv(pause, sum.Sessions)
	}
	sum.PunctualityRate = percent(punctual, active)
	sum.Performance = percent(achieved, expected)
	SortRows(sum.PerUser)
	return sum
}

func countPresence(p *Presence, status model.LiveStatus) {
	switch status {
	case model.StatusIn:
		p.In++
	case model.StatusOnPause:
		p.OnPause++
	case model.StatusOut:
		p.Out++
	default:
		p.NotBadged++
	}
}

// percent is round(100*num/den), or nil when den is zero.
func percent(num, den int) *int {
	if den <= 0 {
		return nil
	}
	v := int(math.Round(100 * float64(num) / float64(den)))
	return &v
}

func roundDiv(num, den int) int {
	return int(math.Round(float64(num) / float64(den)))
}

// SortRows orders rows by live status (Entré, En pause, Sorti, others) then
// by first name, ignoring case.
func SortRows(rows []UserKpi) {
	sort.SliceStable(rows, func(i, j int) bool {
		return less(rows[i].Status, rows[i].FirstName, rows[j].Status, rows[j].FirstName)
	})
}

// SortUsers applies the same display order to users.
func SortUsers(users []model.User) {
	sort.SliceStable(users, func(i, j int) bool {
		return less(users[i].Status, users[i].FirstName, users[j].Status, users[j].FirstName)
	})
}

func less(si model.LiveStatus, ni string, sj model.LiveStatus, nj string) bool {
	ri, rj := model.StatusRank(si), model.StatusRank(sj)
	if ri != rj {
		return ri < rj
	}
	return strings.ToLower(ni) < strings.ToLower(nj)
}
