package registration

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/ticket"
	"go.opentelemetry.io/otel/attribute"
)

// Verified is a ticket that passed verification.
type Verified struct {
	Registration *domain.Registration
	Ticket       ticket.Signed
}

// VerifyTicket checks a scanned ticket against the stored registration.
// The claims are rebuilt from stored data, never taken from the scan, and
// every failure is reported as the same InvalidTicket error.
func (s *Service) VerifyTicket(ctx context.Context, actor domain.Actor, eventID uuid.UUID, ticketID, sig string) (v *Verified, err error) {
	ctx, span := s.span(ctx, "VerifyTicket", attribute.String("event.id", eventID.String()))
	defer func() { endSpan(span, err) }()

	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(e) {
		return nil, domain.Forbidden("only the organizer can verify tickets")
	}
	if !ticket.ValidTicketID(ticketID) {
		return nil, domain.InvalidTicket()
	}
	reg, err := s.store.GetRegistrationByTicket(ctx, ticketID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, domain.InvalidTicket()
		}
		return nil, err
	}
	if reg.EventID != e.ID || reg.Status != domain.StatusConfirmed {
		return nil, domain.InvalidTicket()
	}
	claims := ClaimsFor(e, reg)
	if !s.signer.Verify(claims, sig) {
		s.logger.WithField("event_id", e.ID).Warn("ticket signature mismatch")
		return nil, domain.InvalidTicket()
	}
	return &Verified{Registration: reg, Ticket: ticket.Signed{Claims: claims, Sig: sig}}, nil
}

// Ticket returns the signed ticket of the caller's confirmed registration.
func (s *Service) Ticket(ctx context.Context, actor domain.Actor, registrationID uuid.UUID) (*ticket.Signed, error) {
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetEvent(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	if reg.ParticipantID != actor.ID && !actor.CanManage(e) {
		return nil, domain.Forbidden("this ticket belongs to someone else")
	}
	if reg.Status != domain.StatusConfirmed || reg.TicketSig == "" {
		return nil, domain.Conflict(domain.ErrInvalidStatusTransition, "registration is %s; tickets are issued on confirmation", reg.Status)
	}
	return &ticket.Signed{Claims: ClaimsFor(e, reg), Sig: reg.TicketSig}, nil
}
