// Package notify delivers post-commit side effects: participant
// notifications and live capacity updates. Delivery is best effort.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/capacity"
	"github.com/robertarktes/event-registrations/internal/observability"
	"github.com/robertarktes/event-registrations/internal/ticket"
)

type Kind string

const (
	RegistrationPending   Kind = "registration.pending"
	RegistrationConfirmed Kind = "registration.confirmed"
	RegistrationRejected  Kind = "registration.rejected"
	RegistrationCancelled Kind = "registration.cancelled"
	TeamCompleted         Kind = "team.completed"
	CapacityChanged       Kind = "capacity.changed"
)

type Notification struct {
	Kind           Kind           `json:"kind"`
	EventID        uuid.UUID      `json:"event_id"`
	EventName      string         `json:"event_name"`
	RegistrationID uuid.UUID      `json:"registration_id,omitempty"`
	ParticipantID  uuid.UUID      `json:"participant_id,omitempty"`
	Name           string         `json:"name,omitempty"`
	Email          string         `json:"email,omitempty"`
	TicketID       string         `json:"ticket_id,omitempty"`
	Ticket         *ticket.Signed `json:"ticket,omitempty"`
	Comment        string         `json:"comment,omitempty"`
	At             time.Time      `json:"at"`
}

// Notifier hands a notification to a delivery channel (mail, queue, ...).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

const dispatchTimeout = 5 * time.Second

// Dispatcher fans committed side effects out to the configured sinks.
// Failures are logged and counted, never returned.
type Dispatcher struct {
	notifier Notifier
	capacity capacity.Publisher
	logger   observability.Logger
}

func NewDispatcher(notifier Notifier, pub capacity.Publisher, logger observability.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, capacity: pub, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, changes []capacity.Change, notes []Notification) {
	if d == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	if d.capacity != nil {
		for _, c := range changes {
			if err := d.capacity.Publish(ctx, c); err != nil {
				observability.NotificationFailures.WithLabelValues(string(CapacityChanged)).Inc()
				d.logger.WithField("event_id", c.EventID).Error("capacity broadcast failed: ", err)
			}
		}
	}
	if d.notifier != nil {
		for _, n := range notes {
			if err := d.notifier.Notify(ctx, n); err != nil {
				observability.NotificationFailures.WithLabelValues(string(n.Kind)).Inc()
				d.logger.WithField("registration_id", n.RegistrationID).Error("notification failed: ", err)
			}
		}
	}
}

// Multi sends to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var first error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Log writes notifications to the logger; used when no broker is configured.
type Log struct {
	Logger observability.Logger
}

func (l Log) Notify(_ context.Context, n Notification) error {
	l.Logger.WithField("kind", n.Kind).WithField("registration_id", n.RegistrationID).Info("notification for ", n.Email)
	return nil
}
