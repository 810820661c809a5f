package registration

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/inventory"
	"github.com/robertarktes/event-registrations/internal/notify"
	"go.opentelemetry.io/otel/attribute"
)

// Cancel withdraws the caller's own registration. Cancelling an already
// cancelled registration succeeds without changing anything.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, registrationID uuid.UUID) (reg *domain.Registration, err error) {
	ctx, span := s.span(ctx, "Cancel", attribute.String("registration.id", registrationID.String()))
	defer func() { endSpan(span, err) }()

	eventID, err := s.eventOf(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	err = s.inEvent(ctx, eventID, func(u *unit) error {
		reg, err = u.tx.Registration(ctx, registrationID)
		if err != nil {
			return err
		}
		if reg.ParticipantID != actor.ID {
			return domain.Forbidden("you can only cancel your own registration")
		}
		if reg.Status == domain.StatusCancelled {
			return nil
		}

		e := u.tx.Event()
		wasConfirmed := reg.Status == domain.StatusConfirmed
		now := s.now()
		if err := reg.Transition(domain.StatusCancelled, actor.ID, "cancelled by participant", now); err != nil {
			return err
		}
		if e.IsMerchandise() {
			// pending orders never touched the counter or the stock
			if wasConfirmed {
				u.ledger.Release(e, reg.Quantity)
				inventory.Restore(e, reg.SelectedVariants)
			}
		} else {
			u.ledger.Release(e, reg.Quantity)
		}
		if len(u.ledger.Changes()) > 0 {
			if err := u.tx.SaveEvent(ctx); err != nil {
				return err
			}
		}
		if err := u.tx.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		u.notify(registrationNote(notify.RegistrationCancelled, e, reg, nil, "", now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// MarkAttended checks a confirmed registration in. It is a one-way latch:
// scanning the same ticket twice fails with ErrAlreadyAttended.
func (s *Service) MarkAttended(ctx context.Context, actor domain.Actor, registrationID uuid.UUID) (reg *domain.Registration, err error) {
	ctx, span := s.span(ctx, "MarkAttended", attribute.String("registration.id", registrationID.String()))
	defer func() { endSpan(span, err) }()

	eventID, err := s.eventOf(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	err = s.inEvent(ctx, eventID, func(u *unit) error {
		if !actor.CanManage(u.tx.Event()) {
			return domain.Forbidden("only the organizer can mark attendance")
		}
		reg, err = u.tx.Registration(ctx, registrationID)
		if err != nil {
			return err
		}
		if err := reg.MarkAttended(s.now()); err != nil {
			return err
		}
		return u.tx.UpdateRegistration(ctx, reg)
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}
