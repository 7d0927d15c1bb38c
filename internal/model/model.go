package model

import (
	"strings"
	"time"
)

// Role is closed: every switch over it is expected to name all four values.
type Role uint8

const (
	RoleStandard Role = iota
	RoleFieldAgent
	RoleManager
	RoleAdmin
)

func ParseRole(value string) Role {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "admin":
		return RoleAdmin
	case "manager":
		return RoleManager
	case "a-e":
		return RoleFieldAgent
	default:
		return RoleStandard
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "Admin"
	case RoleManager:
		return "Manager"
	case RoleFieldAgent:
		return "A-E"
	case RoleStandard:
		return ""
	}
	return ""
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	*r = ParseRole(string(text))
	return nil
}

// Privileged reports whether the role may badge from an unknown network
// without justification.
func (r Role) Privileged() bool {
	switch r {
	case RoleAdmin, RoleManager:
		return true
	case RoleFieldAgent, RoleStandard:
		return false
	}
	return false
}

type Action string

const (
	ActionEntree Action = "entrée"
	ActionSortie Action = "sortie"
	ActionPause  Action = "pause"
	ActionRetour Action = "retour"
)

func ParseAction(value string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "entrée", "entree":
		return ActionEntree, true
	case "sortie":
		return ActionSortie, true
	case "pause":
		return ActionPause, true
	case "retour":
		return ActionRetour, true
	default:
		return "", false
	}
}

type LiveStatus string

const (
	StatusIn        LiveStatus = "Entré"
	StatusOnPause   LiveStatus = "En pause"
	StatusOut       LiveStatus = "Sorti"
	StatusNotBadged LiveStatus = "Non badgé"
)

// StatusAfter is the live status a user holds once action is recorded.
func StatusAfter(action Action) LiveStatus {
	switch action {
	case ActionEntree, ActionRetour:
		return StatusIn
	case ActionPause:
		return StatusOnPause
	case ActionSortie:
		return StatusOut
	default:
		return StatusNotBadged
	}
}

// StatusRank orders live statuses for display lists.
func StatusRank(status LiveStatus) int {
	switch status {
	case StatusIn:
		return 0
	case StatusOnPause:
		return 1
	case StatusOut:
		return 2
	default:
		return 3
	}
}

const (
	SiteRemote  = "Télétravail"
	SiteOffsite = "Hors site"
	SiteUnknown = "Inconnu"
)

type User struct {
	ID            string     `json:"id"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Email         string     `json:"email"`
	Role          Role       `json:"role"`
	Service       string     `json:"service,omitempty"`
	Lieux         *string    `json:"lieux"`
	Status        LiveStatus `json:"status"`
	BadgeCode     string     `json:"numero_badge,omitempty"`
	ContractHours *float64   `json:"contract_hours,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// FirstBadge reports whether the user has never badged.
func (u User) FirstBadge() bool {
	return u.Lieux == nil
}

type BadgeEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"utilisateur_id"`
	At        time.Time `json:"date_heure"`
	Action    Action    `json:"type_action"`
	Code      string    `json:"code"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Lieux     *string   `json:"lieux,omitempty"`
	Comment   *string   `json:"commentaire,omitempty"`
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

type Validation struct {
	ValidatorID string    `json:"validator_id"`
	ValidatedAt time.Time `json:"validated_at"`
	Approved    bool      `json:"approved"`
	Comment     *string   `json:"comment,omitempty"`
}

type ModificationRequest struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	EntreeID       string        `json:"entree_id"`
	ProposedEntree *time.Time    `json:"proposed_entree,omitempty"`
	ProposedSortie *time.Time    `json:"proposed_sortie,omitempty"`
	PauseDelta     int           `json:"pause_delta_minutes"`
	Motif          string        `json:"motif,omitempty"`
	Comment        string        `json:"commentaire,omitempty"`
	Status         RequestStatus `json:"status"`
	Validation     *Validation   `json:"validation,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

type OubliRequest struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	Entree     time.Time     `json:"date_heure_entree"`
	Sortie     time.Time     `json:"date_heure_sortie"`
	PauseDebut *time.Time    `json:"date_heure_pause_debut,omitempty"`
	PauseFin   *time.Time    `json:"date_heure_pause_fin,omitempty"`
	Raison     string        `json:"raison"`
	Comment    *string       `json:"commentaire,omitempty"`
	PerteBadge bool          `json:"perte_badge"`
	Status     RequestStatus `json:"status"`
	Validation *Validation   `json:"validation,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// HasPause reports whether the request carries a complete pause pair.
func (o OubliRequest) HasPause() bool {
	return o.PauseDebut != nil && o.PauseFin != nil
}
