// Package capacity owns the registeredCount accounting of an event.
//
// Normal events count a registration at creation time, pending or not.
// Merchandise events count only approved quantity; pending orders are held
// back by an admission check instead.
package capacity

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/domain"
)

// Change is a committed registeredCount value for one event. Version
// orders changes of the same event; a consumer keeps the highest one.
type Change struct {
	EventID         uuid.UUID `json:"eventId"`
	RegisteredCount int       `json:"registeredCount"`
	Version         int64     `json:"version"`
}

// Publisher receives a Change after the mutation that produced it commits.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Ledger mutates counters on events loaded inside one unit of work and
// remembers the resulting values so they can be published after commit.
// A Ledger is not safe for concurrent use; callers hold the event lock.
type Ledger struct {
	changes map[uuid.UUID]Change
	order   []uuid.UUID
}

func NewLedger() *Ledger {
	return &Ledger{changes: make(map[uuid.UUID]Change)}
}

// Reserve takes qty seats on a Normal event.
func (l *Ledger) Reserve(e *domain.Event, qty int) error {
	if e.IsMerchandise() {
		return domain.Validation("reserve is only defined for normal events")
	}
	if qty < 1 {
		return domain.Validation("quantity must be at least 1")
	}
	if qty > e.Limit-e.RegisteredCount {
		return full(e)
	}
	e.RegisteredCount += qty
	l.record(e)
	return nil
}

// Admit checks that a new merchandise order of qty fits next to the
// already committed count and the quantities of pending orders.
func (l *Ledger) Admit(e *domain.Event, pending, qty int) error {
	if qty < 1 {
		return domain.Validation("quantity must be at least 1")
	}
	if qty > e.Limit-e.RegisteredCount-pending {
		return full(e)
	}
	return nil
}

// Commit adds approved merchandise quantity.
func (l *Ledger) Commit(e *domain.Event, qty int) error {
	if !e.IsMerchandise() {
		return domain.Validation("commit is only defined for merchandise events")
	}
	if qty < 1 {
		return domain.Validation("quantity must be at least 1")
	}
	if qty > e.Limit-e.RegisteredCount {
		return full(e)
	}
	e.RegisteredCount += qty
	l.record(e)
	return nil
}

// Release gives back qty, never dropping below zero.
func (l *Ledger) Release(e *domain.Event, qty int) {
	e.RegisteredCount -= qty
	if e.RegisteredCount < 0 {
		e.RegisteredCount = 0
	}
	l.record(e)
}

// Changes lists the last value per touched event in first-touch order.
func (l *Ledger) Changes() []Change {
	out := make([]Change, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.changes[id])
	}
	return out
}

func (l *Ledger) record(e *domain.Event) {
	if _, ok := l.changes[e.ID]; !ok {
		l.order = append(l.order, e.ID)
	}
	e.CapacityVersion++
	l.changes[e.ID] = Change{EventID: e.ID, RegisteredCount: e.RegisteredCount, Version: e.CapacityVersion}
}

func full(e *domain.Event) error {
	return domain.Conflict(domain.ErrEventFull, "event %q is full (%d of %d taken)", e.Name, e.RegisteredCount, e.Limit)
}
