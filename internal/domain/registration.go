package domain

import (
	"time"

	"github.com/google/uuid"
)

type RegistrationStatus string

const (
	StatusPending   RegistrationStatus = "pending"
	StatusConfirmed RegistrationStatus = "confirmed"
	StatusCancelled RegistrationStatus = "cancelled"
	StatusRejected  RegistrationStatus = "rejected"
)

var registrationTransitions = map[RegistrationStatus][]RegistrationStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusRejected},
	StatusConfirmed: {StatusCancelled},
}

// Active reports whether the status still holds a claim on the event.
func (s RegistrationStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type SelectedVariant struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type StatusChange struct {
	From    RegistrationStatus `json:"from,omitempty"`
	To      RegistrationStatus `json:"to"`
	At      time.Time          `json:"at"`
	ActorID uuid.UUID          `json:"actor_id"`
	Comment string             `json:"comment,omitempty"`
}

type Registration struct {
	ID               uuid.UUID
	EventID          uuid.UUID
	ParticipantID    uuid.UUID
	ParticipantName  string
	ParticipantEmail string
	TeamID           *uuid.UUID
	Status           RegistrationStatus
	TicketID         string
	TicketSig        string
	Responses        map[string]string
	SelectedVariants []SelectedVariant
	Quantity         int
	Amount           float64
	PaymentProof     string
	ProofUploadedAt  *time.Time
	Attended         bool
	AttendedAt       *time.Time
	StatusHistory    []StatusChange
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewRegistration builds a registration in its initial status and records
// the creation in the history.
func NewRegistration(e *Event, p Actor, status RegistrationStatus, ticketID string, now time.Time) *Registration {
	return &Registration{
		ID:               uuid.New(),
		EventID:          e.ID,
		ParticipantID:    p.ID,
		ParticipantName:  p.Name,
		ParticipantEmail: p.Email,
		Status:           status,
		TicketID:         ticketID,
		Quantity:         1,
		StatusHistory:    []StatusChange{{To: status, At: now, ActorID: p.ID}},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Transition applies a legal status change and appends it to the history.
func (r *Registration) Transition(to RegistrationStatus, actor uuid.UUID, comment string, now time.Time) error {
	for _, next := range registrationTransitions[r.Status] {
		if next == to {
			r.StatusHistory = append(r.StatusHistory, StatusChange{
				From:    r.Status,
				To:      to,
				At:      now,
				ActorID: actor,
				Comment: comment,
			})
			r.Status = to
			r.UpdatedAt = now
			return nil
		}
	}
	return Conflict(ErrInvalidStatusTransition, "registration is %s and cannot become %s", r.Status, to)
}

// MarkAttended latches Attended; a second scan is rejected.
func (r *Registration) MarkAttended(now time.Time) error {
	if r.Status != StatusConfirmed {
		return Conflict(ErrInvalidStatusTransition, "only confirmed registrations can be checked in (status is %s)", r.Status)
	}
	if r.Attended {
		return Conflict(ErrAlreadyAttended, "ticket %s was already scanned at %s", r.TicketID, r.AttendedAt.Format(time.RFC3339))
	}
	r.Attended = true
	r.AttendedAt = &now
	r.UpdatedAt = now
	return nil
}

// AttachProof records a payment proof reference on a pending registration.
func (r *Registration) AttachProof(ref string, actor uuid.UUID, now time.Time) error {
	if r.Status != StatusPending {
		return Conflict(ErrInvalidStatusTransition, "payment proof can only be uploaded while pending (status is %s)", r.Status)
	}
	r.PaymentProof = ref
	r.ProofUploadedAt = &now
	r.UpdatedAt = now
	r.StatusHistory = append(r.StatusHistory, StatusChange{
		From:    r.Status,
		To:      r.Status,
		At:      now,
		ActorID: actor,
		Comment: "payment proof uploaded",
	})
	return nil
}
