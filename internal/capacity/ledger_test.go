package capacity_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/capacity"
	"github.com/robertarktes/event-registrations/internal/domain"
)

func TestLedger_ReserveUpToLimit(t *testing.T) {
	e := &domain.Event{ID: uuid.New(), Name: "Talk", Type: domain.EventNormal, Limit: 2}
	l := capacity.NewLedger()

	if err := l.Reserve(e, 1); err != nil {
		t.Fatal(err)
	}
	if err := l.Reserve(e, 1); err != nil {
		t.Fatal(err)
	}
	if err := l.Reserve(e, 1); !errors.Is(err, domain.ErrEventFull) {
		t.Fatalf("expected event full, got %v", err)
	}
	if e.RegisteredCount != 2 {
		t.Errorf("expected 2, got %d", e.RegisteredCount)
	}

	changes := l.Changes()
	if len(changes) != 1 || changes[0].RegisteredCount != 2 || changes[0].EventID != e.ID {
		t.Errorf("unexpected changes %+v", changes)
	}
}

func TestLedger_ReleaseClampsAtZero(t *testing.T) {
	e := &domain.Event{ID: uuid.New(), Type: domain.EventNormal, Limit: 5, RegisteredCount: 1}
	l := capacity.NewLedger()
	l.Release(e, 3)
	if e.RegisteredCount != 0 {
		t.Errorf("expected 0, got %d", e.RegisteredCount)
	}
}

func TestLedger_MerchandisePolicy(t *testing.T) {
	e := &domain.Event{ID: uuid.New(), Type: domain.EventMerchandise, Limit: 3, RegisteredCount: 1}
	l := capacity.NewLedger()

	if err := l.Admit(e, 1, 1); err != nil {
		t.Fatalf("expected admission, got %v", err)
	}
	if err := l.Admit(e, 2, 1); !errors.Is(err, domain.ErrEventFull) {
		t.Fatalf("expected event full, got %v", err)
	}
	if err := l.Reserve(e, 1); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected reserve to be refused for merchandise, got %v", err)
	}
	if err := l.Commit(e, 2); err != nil {
		t.Fatal(err)
	}
	if e.RegisteredCount != 3 {
		t.Errorf("expected 3, got %d", e.RegisteredCount)
	}
	if err := l.Commit(e, 1); !errors.Is(err, domain.ErrEventFull) {
		t.Errorf("expected event full, got %v", err)
	}
}

func TestLedger_HugeQuantitiesAreFull(t *testing.T) {
	normal := &domain.Event{ID: uuid.New(), Type: domain.EventNormal, Limit: 3, RegisteredCount: 1}
	merch := &domain.Event{ID: uuid.New(), Type: domain.EventMerchandise, Limit: 3, RegisteredCount: 1}
	l := capacity.NewLedger()

	if err := l.Reserve(normal, math.MaxInt); !errors.Is(err, domain.ErrEventFull) {
		t.Errorf("expected event full on reserve, got %v", err)
	}
	if err := l.Admit(merch, 1, math.MaxInt); !errors.Is(err, domain.ErrEventFull) {
		t.Errorf("expected event full on admit, got %v", err)
	}
	if err := l.Commit(merch, math.MaxInt); !errors.Is(err, domain.ErrEventFull) {
		t.Errorf("expected event full on commit, got %v", err)
	}
	if normal.RegisteredCount != 1 || merch.RegisteredCount != 1 {
		t.Errorf("counts changed: normal %d merch %d", normal.RegisteredCount, merch.RegisteredCount)
	}
	if len(l.Changes()) != 0 {
		t.Errorf("refused operations must not record changes, got %+v", l.Changes())
	}
}

func TestLedger_NonPositiveQuantityIsValidation(t *testing.T) {
	normal := &domain.Event{ID: uuid.New(), Type: domain.EventNormal, Limit: 3}
	merch := &domain.Event{ID: uuid.New(), Type: domain.EventMerchandise, Limit: 3}
	l := capacity.NewLedger()

	for _, qty := range []int{0, -1, math.MinInt} {
		if err := l.Reserve(normal, qty); domain.KindOf(err) != domain.KindValidation {
			t.Errorf("reserve %d: expected validation error, got %v", qty, err)
		}
		if err := l.Admit(merch, 0, qty); domain.KindOf(err) != domain.KindValidation {
			t.Errorf("admit %d: expected validation error, got %v", qty, err)
		}
		if err := l.Commit(merch, qty); domain.KindOf(err) != domain.KindValidation {
			t.Errorf("commit %d: expected validation error, got %v", qty, err)
		}
	}
	if normal.RegisteredCount != 0 || merch.RegisteredCount != 0 {
		t.Errorf("counts changed: normal %d merch %d", normal.RegisteredCount, merch.RegisteredCount)
	}
}

func TestLedger_VersionGrowsWithEveryChange(t *testing.T) {
	e := &domain.Event{ID: uuid.New(), Type: domain.EventNormal, Limit: 5, CapacityVersion: 7}
	l := capacity.NewLedger()

	if err := l.Reserve(e, 2); err != nil {
		t.Fatal(err)
	}
	l.Release(e, 1)
	if e.CapacityVersion != 9 {
		t.Errorf("expected version 9, got %d", e.CapacityVersion)
	}
	changes := l.Changes()
	if len(changes) != 1 || changes[0].Version != 9 || changes[0].RegisteredCount != 1 {
		t.Errorf("expected the last change at version 9, got %+v", changes)
	}
}
