package registration

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/notify"
)

// Store persists events, registrations and teams.
//
// WithEvent is the only way to mutate them: fn runs with exclusive access to
// one event aggregate (the event row plus its registrations and teams) and
// its writes become visible together when fn returns nil, or not at all.
type Store interface {
	WithEvent(ctx context.Context, eventID uuid.UUID, fn func(tx EventTx) error) error

	CreateEvent(ctx context.Context, e *domain.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	GetRegistration(ctx context.Context, id uuid.UUID) (*domain.Registration, error)
	GetRegistrationByTicket(ctx context.Context, ticketID string) (*domain.Registration, error)
	ListRegistrationsByParticipant(ctx context.Context, participantID uuid.UUID) ([]domain.Registration, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*domain.Team, error)
	GetTeamByInviteCode(ctx context.Context, code string) (*domain.Team, error)
}

// Filter narrows the registrations read inside an EventTx. Zero values
// match everything.
type Filter struct {
	ParticipantID uuid.UUID
	Statuses      []domain.RegistrationStatus
}

func (f Filter) Match(r *domain.Registration) bool {
	if f.ParticipantID != uuid.Nil && r.ParticipantID != f.ParticipantID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// EventTx is a unit of work scoped to one locked event.
type EventTx interface {
	Event() *domain.Event
	SaveEvent(ctx context.Context) error

	Registration(ctx context.Context, id uuid.UUID) (*domain.Registration, error)
	Registrations(ctx context.Context, f Filter) ([]domain.Registration, error)
	InsertRegistration(ctx context.Context, r *domain.Registration) error
	UpdateRegistration(ctx context.Context, r *domain.Registration) error
	TicketIDTaken(ctx context.Context, ticketID string) (bool, error)

	Team(ctx context.Context, id uuid.UUID) (*domain.Team, error)
	Teams(ctx context.Context) ([]domain.Team, error)
	InsertTeam(ctx context.Context, t *domain.Team) error
	UpdateTeam(ctx context.Context, t *domain.Team) error
	InviteCodeTaken(ctx context.Context, code string) (bool, error)
}

// Outbox is implemented by an EventTx that can persist notifications in the
// same transaction as the change that produced them. A relay delivers them
// later, so they survive a crash between commit and dispatch.
type Outbox interface {
	Enqueue(ctx context.Context, notes []notify.Notification) error
}
