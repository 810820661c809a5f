package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/registration"
	"github.com/robertarktes/event-registrations/internal/ticket"
)

type eventRequest struct {
	Name                 string             `json:"name"`
	Description          string             `json:"description"`
	Type                 domain.EventType   `json:"type"`
	Eligibility          domain.Eligibility `json:"eligibility"`
	RegistrationDeadline time.Time          `json:"registrationDeadline"`
	StartDate            time.Time          `json:"startDate"`
	EndDate              time.Time          `json:"endDate"`
	Limit                int                `json:"limit"`
	Fee                  float64            `json:"fee"`
	Variants             []domain.Variant   `json:"variants"`
	PurchaseLimitPerUser int                `json:"purchaseLimitPerUser"`
	FormFields           []domain.FormField `json:"formFields"`
	IsTeamEvent          bool               `json:"isTeamEvent"`
	MinTeamSize          int                `json:"minTeamSize"`
	MaxTeamSize          int                `json:"maxTeamSize"`
}

func (r eventRequest) input() registration.EventInput {
	return registration.EventInput{
		Name:                 r.Name,
		Description:          r.Description,
		Type:                 r.Type,
		Eligibility:          r.Eligibility,
		RegistrationDeadline: r.RegistrationDeadline,
		StartDate:            r.StartDate,
		EndDate:              r.EndDate,
		Limit:                r.Limit,
		Fee:                  r.Fee,
		Variants:             r.Variants,
		PurchaseLimitPerUser: r.PurchaseLimitPerUser,
		FormFields:           r.FormFields,
		IsTeamEvent:          r.IsTeamEvent,
		MinTeamSize:          r.MinTeamSize,
		MaxTeamSize:          r.MaxTeamSize,
	}
}

type eventView struct {
	ID                   uuid.UUID          `json:"id"`
	OrganizerID          uuid.UUID          `json:"organizerId"`
	Name                 string             `json:"name"`
	Description          string             `json:"description,omitempty"`
	Type                 domain.EventType   `json:"type"`
	Status               domain.EventStatus `json:"status"`
	Eligibility          domain.Eligibility `json:"eligibility"`
	RegistrationDeadline *time.Time         `json:"registrationDeadline,omitempty"`
	StartDate            *time.Time         `json:"startDate,omitempty"`
	EndDate              *time.Time         `json:"endDate,omitempty"`
	Limit                int                `json:"limit"`
	RegisteredCount      int                `json:"registeredCount"`
	Remaining            int                `json:"remaining"`
	Fee                  float64            `json:"fee"`
	Variants             []domain.Variant   `json:"variants,omitempty"`
	PurchaseLimitPerUser int                `json:"purchaseLimitPerUser,omitempty"`
	FormFields           []domain.FormField `json:"formFields,omitempty"`
	IsTeamEvent          bool               `json:"isTeamEvent"`
	MinTeamSize          int                `json:"minTeamSize,omitempty"`
	MaxTeamSize          int                `json:"maxTeamSize,omitempty"`
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newEventView(e *domain.Event) eventView {
	return eventView{
		ID:                   e.ID,
		OrganizerID:          e.OrganizerID,
		Name:                 e.Name,
		Description:          e.Description,
		Type:                 e.Type,
		Status:               e.Status,
		Eligibility:          e.Eligibility,
		RegistrationDeadline: optTime(e.RegistrationDeadline),
		StartDate:            optTime(e.StartDate),
		EndDate:              optTime(e.EndDate),
		Limit:                e.Limit,
		RegisteredCount:      e.RegisteredCount,
		Remaining:            e.Remaining(),
		Fee:                  e.Fee,
		Variants:             e.Variants,
		PurchaseLimitPerUser: e.PurchaseLimitPerUser,
		FormFields:           e.FormFields,
		IsTeamEvent:          e.IsTeamEvent,
		MinTeamSize:          e.MinTeamSize,
		MaxTeamSize:          e.MaxTeamSize,
	}
}

type registrationView struct {
	ID               uuid.UUID                 `json:"id"`
	EventID          uuid.UUID                 `json:"eventId"`
	ParticipantID    uuid.UUID                 `json:"participantId"`
	ParticipantName  string                    `json:"participantName"`
	ParticipantEmail string                    `json:"participantEmail"`
	TeamID           *uuid.UUID                `json:"teamId,omitempty"`
	Status           domain.RegistrationStatus `json:"status"`
	TicketID         string                    `json:"ticketId"`
	Responses        map[string]string         `json:"responses,omitempty"`
	SelectedVariants []domain.SelectedVariant  `json:"selectedVariants,omitempty"`
	Quantity         int                       `json:"quantity"`
	Amount           float64                   `json:"amount"`
	PaymentProof     string                    `json:"paymentProof,omitempty"`
	ProofUploadedAt  *time.Time                `json:"proofUploadedAt,omitempty"`
	Attended         bool                      `json:"attended"`
	AttendedAt       *time.Time                `json:"attendedAt,omitempty"`
	StatusHistory    []domain.StatusChange     `json:"statusHistory"`
	CreatedAt        time.Time                 `json:"createdAt"`
	Ticket           *ticketView               `json:"ticket,omitempty"`
}

type ticketView struct {
	ticket.Signed
	QR string `json:"qr"`
}

func newTicketView(s *ticket.Signed) (*ticketView, error) {
	if s == nil {
		return nil, nil
	}
	payload, err := s.JSON()
	if err != nil {
		return nil, err
	}
	return &ticketView{Signed: *s, QR: string(payload)}, nil
}

func newRegistrationView(r *domain.Registration, signed *ticket.Signed) (registrationView, error) {
	tv, err := newTicketView(signed)
	if err != nil {
		return registrationView{}, err
	}
	return registrationView{
		ID:               r.ID,
		EventID:          r.EventID,
		ParticipantID:    r.ParticipantID,
		ParticipantName:  r.ParticipantName,
		ParticipantEmail: r.ParticipantEmail,
		TeamID:           r.TeamID,
		Status:           r.Status,
		TicketID:         r.TicketID,
		Responses:        r.Responses,
		SelectedVariants: r.SelectedVariants,
		Quantity:         r.Quantity,
		Amount:           r.Amount,
		PaymentProof:     r.PaymentProof,
		ProofUploadedAt:  r.ProofUploadedAt,
		Attended:         r.Attended,
		AttendedAt:       r.AttendedAt,
		StatusHistory:    r.StatusHistory,
		CreatedAt:        r.CreatedAt,
		Ticket:           tv,
	}, nil
}

func registrationViews(regs []domain.Registration) []registrationView {
	out := make([]registrationView, 0, len(regs))
	for i := range regs {
		v, _ := newRegistrationView(&regs[i], nil)
		out = append(out, v)
	}
	return out
}

type teamView struct {
	ID            uuid.UUID           `json:"id"`
	EventID       uuid.UUID           `json:"eventId"`
	Name          string              `json:"name"`
	LeaderID      uuid.UUID           `json:"leaderId"`
	Members       []domain.TeamMember `json:"members"`
	TeamSize      int                 `json:"teamSize"`
	Status        domain.TeamStatus   `json:"status"`
	InviteCode    string              `json:"inviteCode"`
	Registrations []registrationView  `json:"registrations,omitempty"`
}

func newTeamView(t *domain.Team, results []registration.Result) (teamView, error) {
	v := teamView{
		ID:         t.ID,
		EventID:    t.EventID,
		Name:       t.Name,
		LeaderID:   t.LeaderID,
		Members:    t.Members,
		TeamSize:   t.TeamSize,
		Status:     t.Status,
		InviteCode: t.InviteCode,
	}
	for _, res := range results {
		rv, err := newRegistrationView(res.Registration, res.Ticket)
		if err != nil {
			return teamView{}, err
		}
		v.Registrations = append(v.Registrations, rv)
	}
	return v, nil
}
