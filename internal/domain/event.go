package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventNormal      EventType = "normal"
	EventMerchandise EventType = "merchandise"
)

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventOngoing   EventStatus = "ongoing"
	EventCompleted EventStatus = "completed"
	EventClosed    EventStatus = "closed"
)

var eventTransitions = map[EventStatus][]EventStatus{
	EventDraft:     {EventPublished},
	EventPublished: {EventOngoing, EventClosed},
	EventOngoing:   {EventCompleted, EventClosed},
	EventCompleted: {EventClosed},
}

type Eligibility string

const (
	EligibleAll     Eligibility = "all"
	EligibleIIIT    Eligibility = "iiit"
	EligibleNonIIIT Eligibility = "non-iiit"
)

// Allows reports whether a participant of type t may register.
func (el Eligibility) Allows(t ParticipantType) bool {
	switch el {
	case "", EligibleAll:
		return true
	case EligibleIIIT:
		return t == ParticipantIIIT
	case EligibleNonIIIT:
		return t == ParticipantNonIIIT
	}
	return false
}

type Variant struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

type FormField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

type Event struct {
	ID                   uuid.UUID
	OrganizerID          uuid.UUID
	Name                 string
	Description          string
	Type                 EventType
	Status               EventStatus
	Eligibility          Eligibility
	RegistrationDeadline time.Time
	StartDate            time.Time
	EndDate              time.Time
	Limit                int
	RegisteredCount      int
	// CapacityVersion goes up by one with every RegisteredCount change.
	CapacityVersion      int64
	Fee                  float64
	Variants             []Variant
	PurchaseLimitPerUser int
	FormFields           []FormField
	IsTeamEvent          bool
	MinTeamSize          int
	MaxTeamSize          int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (e *Event) IsMerchandise() bool { return e.Type == EventMerchandise }

// IsPriced reports whether registrations go through payment approval.
func (e *Event) IsPriced() bool { return e.IsMerchandise() || e.Fee > 0 }

// Remaining is the committed headroom under Limit.
func (e *Event) Remaining() int {
	return e.Limit - e.RegisteredCount
}

// Variant returns the variant called name, or nil.
func (e *Event) Variant(name string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].Name == name {
			return &e.Variants[i]
		}
	}
	return nil
}

// AcceptingRegistrations checks status, deadline and end date against now.
func (e *Event) AcceptingRegistrations(now time.Time) error {
	if e.Status != EventPublished && e.Status != EventOngoing {
		return Conflict(ErrRegistrationClosed, "event %q is not open for registration", e.Name)
	}
	if !e.EndDate.IsZero() && now.After(e.EndDate) {
		return Conflict(ErrRegistrationClosed, "event %q has ended", e.Name)
	}
	if !e.RegistrationDeadline.IsZero() && now.After(e.RegistrationDeadline) {
		return Conflict(ErrRegistrationClosed, "registration deadline for %q has passed", e.Name)
	}
	return nil
}

// TransitionTo moves the event along its status graph.
func (e *Event) TransitionTo(to EventStatus, now time.Time) error {
	for _, next := range eventTransitions[e.Status] {
		if next == to {
			e.Status = to
			e.UpdatedAt = now
			return nil
		}
	}
	return Conflict(ErrInvalidStatusTransition, "cannot move event from %s to %s", e.Status, to)
}

// Editable reports whether organizer edits are still allowed.
func (e *Event) Editable() error {
	if e.Status == EventClosed {
		return Conflict(ErrInvalidStatusTransition, "event %q is closed", e.Name)
	}
	if e.RegisteredCount > 0 {
		return Conflict(ErrConflict, "event %q already has registrations", e.Name)
	}
	return nil
}

// Validate checks the organizer-controlled fields of a new or edited event.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return Validation("event name is required")
	}
	if e.Type != EventNormal && e.Type != EventMerchandise {
		return Validation("unknown event type %q", e.Type)
	}
	switch e.Eligibility {
	case "", EligibleAll, EligibleIIIT, EligibleNonIIIT:
	default:
		return Validation("unknown eligibility %q", e.Eligibility)
	}
	if e.Limit < 1 {
		return Validation("limit must be at least 1")
	}
	if e.Fee < 0 {
		return Validation("fee cannot be negative")
	}
	if !e.StartDate.IsZero() && !e.EndDate.IsZero() && e.EndDate.Before(e.StartDate) {
		return Validation("end date is before start date")
	}
	if !e.RegistrationDeadline.IsZero() && !e.EndDate.IsZero() && e.RegistrationDeadline.After(e.EndDate) {
		return Validation("registration deadline is after the end date")
	}
	if e.PurchaseLimitPerUser < 0 {
		return Validation("purchase limit cannot be negative")
	}
	seen := make(map[string]bool)
	for _, v := range e.Variants {
		if strings.TrimSpace(v.Name) == "" {
			return Validation("variant name is required")
		}
		if seen[v.Name] {
			return Validation("duplicate variant %q", v.Name)
		}
		seen[v.Name] = true
		if v.Stock < 0 {
			return Validation("variant %q has negative stock", v.Name)
		}
		if v.Price < 0 {
			return Validation("variant %q has negative price", v.Name)
		}
	}
	if len(e.Variants) > 0 && !e.IsMerchandise() {
		return Validation("only merchandise events have variants")
	}
	fields := make(map[string]bool)
	for _, f := range e.FormFields {
		if strings.TrimSpace(f.Name) == "" {
			return Validation("form field name is required")
		}
		if fields[f.Name] {
			return Validation("duplicate form field %q", f.Name)
		}
		fields[f.Name] = true
	}
	if e.IsTeamEvent {
		if e.IsMerchandise() {
			return Validation("merchandise events cannot be team events")
		}
		if e.MinTeamSize < 1 || e.MaxTeamSize < e.MinTeamSize {
			return Validation("team size bounds must satisfy 1 <= min <= max")
		}
		if e.MaxTeamSize > e.Limit {
			return Validation("maximum team size exceeds the event limit")
		}
	}
	return nil
}
