package registration

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/inventory"
	"github.com/robertarktes/event-registrations/internal/notify"
	"github.com/robertarktes/event-registrations/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

// UploadPaymentProof attaches an opaque reference to an uploaded proof of
// payment. The file itself lives in external storage.
func (s *Service) UploadPaymentProof(ctx context.Context, actor domain.Actor, registrationID uuid.UUID, proofRef string) (reg *domain.Registration, err error) {
	ctx, span := s.span(ctx, "UploadPaymentProof", attribute.String("registration.id", registrationID.String()))
	defer func() { endSpan(span, err) }()

	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return nil, domain.Validation("payment proof is required")
	}
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
			return domain.Forbidden("you can only upload proof for your own registration")
		}
		if !u.tx.Event().IsPriced() {
			return domain.Validation("event %q is free; no payment is needed", u.tx.Event().Name)
		}
		if err := reg.AttachProof(proofRef, actor.ID, s.now()); err != nil {
			return err
		}
		return u.tx.UpdateRegistration(ctx, reg)
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// ApprovePayment confirms a pending registration and issues its ticket.
// Merchandise stock is checked again here because pending orders only hold
// a soft reservation; on failure the registration stays pending.
func (s *Service) ApprovePayment(ctx context.Context, actor domain.Actor, registrationID uuid.UUID, comment string) (res *Result, err error) {
	ctx, span := s.span(ctx, "ApprovePayment", attribute.String("registration.id", registrationID.String()))
	defer func() { endSpan(span, err) }()

	eventID, err := s.eventOf(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	err = s.inEvent(ctx, eventID, func(u *unit) error {
		e := u.tx.Event()
		if !actor.CanManage(e) {
			return domain.Forbidden("only the organizer can approve payments")
		}
		reg, err := u.tx.Registration(ctx, registrationID)
		if err != nil {
			return err
		}
		if reg.Status != domain.StatusPending {
			return domain.Conflict(domain.ErrInvalidStatusTransition, "registration is %s, not pending", reg.Status)
		}

		if e.IsMerchandise() {
			if err := inventory.CheckStock(e, reg.SelectedVariants); err != nil {
				return err
			}
			if err := u.ledger.Commit(e, reg.Quantity); err != nil {
				return err
			}
			if err := inventory.Take(e, reg.SelectedVariants); err != nil {
				return err
			}
			if err := u.tx.SaveEvent(ctx); err != nil {
				return err
			}
		}

		now := s.now()
		if comment == "" {
			comment = "payment approved"
		}
		if err := reg.Transition(domain.StatusConfirmed, actor.ID, comment, now); err != nil {
			return err
		}
		signed, err := s.issueTicket(e, reg)
		if err != nil {
			return err
		}
		if err := u.tx.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		u.notify(registrationNote(notify.RegistrationConfirmed, e, reg, signed, comment, now))
		res = &Result{Registration: reg, Ticket: signed}
		return nil
	})
	observability.PaymentDecisions.WithLabelValues("approve", outcome(err)).Inc()
	countCapacityRejection("approve", err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RejectPayment rejects a pending registration. Normal events give back the
// seat taken at registration; merchandise orders never held one.
func (s *Service) RejectPayment(ctx context.Context, actor domain.Actor, registrationID uuid.UUID, comment string) (reg *domain.Registration, err error) {
	ctx, span := s.span(ctx, "RejectPayment", attribute.String("registration.id", registrationID.String()))
	defer func() { endSpan(span, err) }()

	eventID, err := s.eventOf(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	err = s.inEvent(ctx, eventID, func(u *unit) error {
		e := u.tx.Event()
		if !actor.CanManage(e) {
			return domain.Forbidden("only the organizer can reject payments")
		}
		reg, err = u.tx.Registration(ctx, registrationID)
		if err != nil {
			return err
		}
		if reg.Status != domain.StatusPending {
			return domain.Conflict(domain.ErrInvalidStatusTransition, "registration is %s, not pending", reg.Status)
		}
		now := s.now()
		if err := reg.Transition(domain.StatusRejected, actor.ID, comment, now); err != nil {
			return err
		}
		if !e.IsMerchandise() {
			u.ledger.Release(e, reg.Quantity)
			if err := u.tx.SaveEvent(ctx); err != nil {
				return err
			}
		}
		if err := u.tx.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		u.notify(registrationNote(notify.RegistrationRejected, e, reg, nil, comment, now))
		return nil
	})
	observability.PaymentDecisions.WithLabelValues("reject", outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.KindOf(err).String()
}
