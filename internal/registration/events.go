package registration

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/domain"
)

// EventInput holds the organizer-editable fields of an event.
type EventInput struct {
	Name                 string
	Description          string
	Type                 domain.EventType
	Eligibility          domain.Eligibility
	RegistrationDeadline time.Time
	StartDate            time.Time
	EndDate              time.Time
	Limit                int
	Fee                  float64
	Variants             []domain.Variant
	PurchaseLimitPerUser int
	FormFields           []domain.FormField
	IsTeamEvent          bool
	MinTeamSize          int
	MaxTeamSize          int
}

func (in EventInput) apply(e *domain.Event) {
	e.Name = strings.TrimSpace(in.Name)
	e.Description = in.Description
	e.Type = in.Type
	e.Eligibility = in.Eligibility
	if e.Eligibility == "" {
		e.Eligibility = domain.EligibleAll
	}
	e.RegistrationDeadline = in.RegistrationDeadline
	e.StartDate = in.StartDate
	e.EndDate = in.EndDate
	e.Limit = in.Limit
	e.Fee = in.Fee
	e.Variants = append([]domain.Variant(nil), in.Variants...)
	e.PurchaseLimitPerUser = in.PurchaseLimitPerUser
	e.FormFields = append([]domain.FormField(nil), in.FormFields...)
	e.IsTeamEvent = in.IsTeamEvent
	e.MinTeamSize = in.MinTeamSize
	e.MaxTeamSize = in.MaxTeamSize
}

func (s *Service) CreateEvent(ctx context.Context, actor domain.Actor, in EventInput) (*domain.Event, error) {
	if actor.Role != domain.RoleOrganizer && !actor.IsAdmin() {
		return nil, domain.Forbidden("only organizers can create events")
	}
	now := s.now()
	e := &domain.Event{
		ID:          uuid.New(),
		OrganizerID: actor.ID,
		Status:      domain.EventDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	in.apply(e)
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateEvent replaces the editable fields. Edits stop once anything is
// counted against the event or it is closed.
func (s *Service) UpdateEvent(ctx context.Context, actor domain.Actor, eventID uuid.UUID, in EventInput) (e *domain.Event, err error) {
	err = s.inEvent(ctx, eventID, func(u *unit) error {
		e = u.tx.Event()
		if !actor.CanManage(e) {
			return domain.Forbidden("only the organizer can edit this event")
		}
		if err := e.Editable(); err != nil {
			return err
		}
		in.apply(e)
		e.UpdatedAt = s.now()
		if err := e.Validate(); err != nil {
			return err
		}
		return u.tx.SaveEvent(ctx)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) TransitionEvent(ctx context.Context, actor domain.Actor, eventID uuid.UUID, to domain.EventStatus) (e *domain.Event, err error) {
	err = s.inEvent(ctx, eventID, func(u *unit) error {
		e = u.tx.Event()
		if !actor.CanManage(e) {
			return domain.Forbidden("only the organizer can change the event status")
		}
		if err := e.TransitionTo(to, s.now()); err != nil {
			return err
		}
		return u.tx.SaveEvent(ctx)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetEvent hides drafts from everyone but their organizer.
func (s *Service) GetEvent(ctx context.Context, actor domain.Actor, eventID uuid.UUID) (*domain.Event, error) {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.Status == domain.EventDraft && !actor.CanManage(e) {
		return nil, domain.NotFound("event")
	}
	return e, nil
}

// ListRegistrations returns an event's registrations, optionally filtered
// by status, to its organizer.
func (s *Service) ListRegistrations(ctx context.Context, actor domain.Actor, eventID uuid.UUID, statuses ...domain.RegistrationStatus) (regs []domain.Registration, err error) {
	err = s.store.WithEvent(ctx, eventID, func(tx EventTx) error {
		if !actor.CanManage(tx.Event()) {
			return domain.Forbidden("only the organizer can list registrations")
		}
		regs, err = tx.Registrations(ctx, Filter{Statuses: statuses})
		return err
	})
	if err != nil {
		return nil, err
	}
	return regs, nil
}

func (s *Service) MyRegistrations(ctx context.Context, actor domain.Actor) ([]domain.Registration, error) {
	return s.store.ListRegistrationsByParticipant(ctx, actor.ID)
}

// GetRegistration is visible to its participant and the event organizer.
func (s *Service) GetRegistration(ctx context.Context, actor domain.Actor, registrationID uuid.UUID) (*domain.Registration, error) {
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.ParticipantID == actor.ID {
		return reg, nil
	}
	e, err := s.store.GetEvent(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(e) {
		return nil, domain.NotFound("registration")
	}
	return reg, nil
}
