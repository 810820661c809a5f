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

type RegisterInput struct {
	Responses map[string]string
	Variants  []domain.SelectedVariant
	Quantity  int
}

// Register admits a participant to an event. Free normal events confirm
// immediately and return a signed ticket; everything else starts pending.
func (s *Service) Register(ctx context.Context, actor domain.Actor, eventID uuid.UUID, in RegisterInput) (res *Result, err error) {
	ctx, span := s.span(ctx, "Register", attribute.String("event.id", eventID.String()))
	defer func() { endSpan(span, err) }()

	if actor.Role != domain.RoleParticipant {
		return nil, domain.Forbidden("only participants can register for events")
	}

	var eventType domain.EventType
	err = s.inEvent(ctx, eventID, func(u *unit) error {
		e := u.tx.Event()
		eventType = e.Type
		if e.IsTeamEvent {
			return domain.Validation("event %q is a team event; create or join a team instead", e.Name)
		}
		if e.IsMerchandise() {
			res, err = s.registerMerchandise(ctx, u, actor, in)
		} else {
			res, err = s.registerNormal(ctx, u, actor, in)
		}
		return err
	})
	outcome := domain.KindOf(err).String()
	if err == nil {
		outcome = string(res.Registration.Status)
	} else if eventType == "" {
		eventType = "unknown"
	}
	observability.RegistrationsTotal.WithLabelValues(string(eventType), outcome).Inc()
	countCapacityRejection("register", err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) registerNormal(ctx context.Context, u *unit, actor domain.Actor, in RegisterInput) (*Result, error) {
	e := u.tx.Event()
	now := s.now()

	if err := e.AcceptingRegistrations(now); err != nil {
		return nil, err
	}
	if e.Remaining() < 1 {
		return nil, domain.Conflict(domain.ErrEventFull, "event %q is full", e.Name)
	}
	existing, err := u.tx.Registrations(ctx, Filter{
		ParticipantID: actor.ID,
		Statuses:      []domain.RegistrationStatus{domain.StatusPending, domain.StatusConfirmed},
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, domain.Conflict(domain.ErrAlreadyRegistered, "you are already registered for %q", e.Name)
	}
	if !e.Eligibility.Allows(actor.Type) {
		return nil, domain.Conflict(domain.ErrNotEligible, "event %q is open to %s participants only", e.Name, e.Eligibility)
	}
	responses, err := validateResponses(e, in.Responses)
	if err != nil {
		return nil, err
	}

	ticketID, err := s.allocateTicketID(ctx, u.tx)
	if err != nil {
		return nil, err
	}
	status := domain.StatusConfirmed
	if e.IsPriced() {
		status = domain.StatusPending
	}
	reg := domain.NewRegistration(e, actor, status, ticketID, now)
	reg.Responses = responses
	reg.Amount = e.Fee

	if err := u.ledger.Reserve(e, reg.Quantity); err != nil {
		return nil, err
	}
	res := &Result{Registration: reg}
	if status == domain.StatusConfirmed {
		if res.Ticket, err = s.issueTicket(e, reg); err != nil {
			return nil, err
		}
	}
	if err := u.tx.SaveEvent(ctx); err != nil {
		return nil, err
	}
	if err := u.tx.InsertRegistration(ctx, reg); err != nil {
		return nil, err
	}

	kind := notify.RegistrationPending
	if status == domain.StatusConfirmed {
		kind = notify.RegistrationConfirmed
	}
	u.notify(registrationNote(kind, e, reg, res.Ticket, "", now))
	return res, nil
}

func (s *Service) registerMerchandise(ctx context.Context, u *unit, actor domain.Actor, in RegisterInput) (*Result, error) {
	e := u.tx.Event()
	now := s.now()

	selection, qty, amount, err := merchandiseOrder(e, in)
	if err != nil {
		return nil, err
	}
	if err := e.AcceptingRegistrations(now); err != nil {
		return nil, err
	}
	pending, err := u.tx.Registrations(ctx, Filter{Statuses: []domain.RegistrationStatus{domain.StatusPending}})
	if err != nil {
		return nil, err
	}
	if err := u.ledger.Admit(e, inventory.PendingQuantity(pending), qty); err != nil {
		return nil, err
	}
	if !e.Eligibility.Allows(actor.Type) {
		return nil, domain.Conflict(domain.ErrNotEligible, "event %q is open to %s participants only", e.Name, e.Eligibility)
	}
	own, err := u.tx.Registrations(ctx, Filter{ParticipantID: actor.ID})
	if err != nil {
		return nil, err
	}
	if err := inventory.CheckPurchaseLimit(e, own, qty); err != nil {
		return nil, err
	}
	if err := inventory.CheckAdmission(e, pending, selection); err != nil {
		return nil, err
	}

	ticketID, err := s.allocateTicketID(ctx, u.tx)
	if err != nil {
		return nil, err
	}
	reg := domain.NewRegistration(e, actor, domain.StatusPending, ticketID, now)
	reg.SelectedVariants = selection
	reg.Quantity = qty
	reg.Amount = amount
	if err := u.tx.InsertRegistration(ctx, reg); err != nil {
		return nil, err
	}
	u.notify(registrationNote(notify.RegistrationPending, e, reg, nil, "", now))
	return &Result{Registration: reg}, nil
}

// merchandiseOrder resolves the requested selection, quantity and amount.
// Events without variants are ordered by plain quantity.
func merchandiseOrder(e *domain.Event, in RegisterInput) ([]domain.SelectedVariant, int, float64, error) {
	if len(e.Variants) == 0 {
		if len(in.Variants) > 0 {
			return nil, 0, 0, domain.Validation("event %q has no variants", e.Name)
		}
		if in.Quantity < 1 {
			return nil, 0, 0, domain.Validation("quantity must be at least 1")
		}
		if in.Quantity > e.Limit {
			return nil, 0, 0, domain.Validation("quantity may not exceed the event limit of %d", e.Limit)
		}
		return nil, in.Quantity, e.Fee * float64(in.Quantity), nil
	}
	if len(in.Variants) == 0 {
		return nil, 0, 0, domain.Validation("select at least one variant")
	}
	selection, qty, err := inventory.Normalize(e, in.Variants)
	if err != nil {
		return nil, 0, 0, err
	}
	amount := 0.0
	for _, sv := range selection {
		amount += e.Variant(sv.Name).Price * float64(sv.Quantity)
	}
	return selection, qty, amount, nil
}

func validateResponses(e *domain.Event, responses map[string]string) (map[string]string, error) {
	known := make(map[string]bool, len(e.FormFields))
	for _, f := range e.FormFields {
		known[f.Name] = true
		if f.Required && strings.TrimSpace(responses[f.Name]) == "" {
			label := f.Label
			if label == "" {
				label = f.Name
			}
			return nil, domain.Validation("%s is required", label)
		}
	}
	out := make(map[string]string, len(responses))
	for k, v := range responses {
		if !known[k] {
			return nil, domain.Validation("unknown form field %q", k)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
