// Package registration is the registration, payment approval and team
// formation engine. Every mutation runs inside Store.WithEvent so capacity,
// stock and team completion are serialized per event; notifications go out
// only after the unit of work commits.
package registration

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/capacity"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/notify"
	"github.com/robertarktes/event-registrations/internal/observability"
	"github.com/robertarktes/event-registrations/internal/ticket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxCodeAttempts = 8

type Service struct {
	store      Store
	signer     *ticket.Signer
	dispatcher *notify.Dispatcher
	logger     observability.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

type Option func(*Service)

// WithClock overrides the wall clock used for deadlines and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, signer *ticket.Signer, dispatcher *notify.Dispatcher, logger observability.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		signer:     signer,
		dispatcher: dispatcher,
		logger:     logger,
		tracer:     otel.Tracer("registration"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is a registration together with its signed ticket, when one was
// issued by the operation.
type Result struct {
	Registration *domain.Registration
	Ticket       *ticket.Signed
}

// unit collects the side effects of one WithEvent call.
type unit struct {
	tx     EventTx
	ledger *capacity.Ledger
	notes  []notify.Notification
}

func (u *unit) notify(n notify.Notification) {
	u.notes = append(u.notes, n)
}

// inEvent runs fn under the event lock and dispatches what it produced
// once the store has committed.
func (s *Service) inEvent(ctx context.Context, eventID uuid.UUID, fn func(u *unit) error) error {
	var u *unit
	err := s.store.WithEvent(ctx, eventID, func(tx EventTx) error {
		u = &unit{tx: tx, ledger: capacity.NewLedger()}
		if err := fn(u); err != nil {
			return err
		}
		if ob, ok := tx.(Outbox); ok && len(u.notes) > 0 {
			return ob.Enqueue(ctx, u.notes)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.dispatcher.Dispatch(ctx, u.ledger.Changes(), u.notes)
	return nil
}

func (s *Service) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "registration."+name, trace.WithAttributes(attrs...))
}

// countCapacityRejection records refusals caused by capacity, stock or the
// per-person purchase limit. Other errors are ignored.
func countCapacityRejection(operation string, err error) {
	var reason string
	switch {
	case errors.Is(err, domain.ErrEventFull):
		reason = "event_full"
	case errors.Is(err, domain.ErrInsufficientStock):
		reason = "insufficient_stock"
	case errors.Is(err, domain.ErrPurchaseLimit):
		reason = "purchase_limit"
	default:
		return
	}
	observability.CapacityRejections.WithLabelValues(operation, reason).Inc()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.kind", domain.KindOf(err).String()))
	}
	span.End()
}

// ClaimsFor builds the signed part of a registration's ticket.
func ClaimsFor(e *domain.Event, r *domain.Registration) ticket.Claims {
	return ticket.Claims{
		TicketID:    r.TicketID,
		Event:       e.Name,
		EventID:     e.ID.String(),
		Participant: r.ParticipantName,
		Email:       r.ParticipantEmail,
	}
}

func (s *Service) issueTicket(e *domain.Event, r *domain.Registration) (*ticket.Signed, error) {
	signed, err := s.signer.Issue(ClaimsFor(e, r))
	if err != nil {
		return nil, errors.Wrap(err, "issue ticket")
	}
	r.TicketSig = signed.Sig
	observability.TicketsIssued.Inc()
	return &signed, nil
}

func (s *Service) allocateTicketID(ctx context.Context, tx EventTx) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		id, err := ticket.NewTicketID()
		if err != nil {
			return "", err
		}
		taken, err := tx.TicketIDTaken(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", errors.New("could not allocate a unique ticket id")
}

func (s *Service) allocateInviteCode(ctx context.Context, tx EventTx) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := ticket.NewInviteCode()
		if err != nil {
			return "", err
		}
		taken, err := tx.InviteCodeTaken(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique invite code")
}

func registrationNote(kind notify.Kind, e *domain.Event, r *domain.Registration, signed *ticket.Signed, comment string, now time.Time) notify.Notification {
	return notify.Notification{
		Kind:           kind,
		EventID:        e.ID,
		EventName:      e.Name,
		RegistrationID: r.ID,
		ParticipantID:  r.ParticipantID,
		Name:           r.ParticipantName,
		Email:          r.ParticipantEmail,
		TicketID:       r.TicketID,
		Ticket:         signed,
		Comment:        comment,
		At:             now,
	}
}

// eventOf finds the event a registration belongs to so the caller
// can lock it; the registration itself must be re-read under the lock.
func (s *Service) eventOf(ctx context.Context, registrationID uuid.UUID) (uuid.UUID, error) {
	r, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return uuid.Nil, err
	}
	return r.EventID, nil
}
