// Package inventory implements soft stock reservation for merchandise.
//
// Stock is only decremented when an order is approved. What pending orders
// hold is re-derived from the live set of pending registrations on every
// call, so approval has to check the current stock again.
package inventory

import (
	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/domain"
)

// PendingReserved sums, per variant name, the quantities requested by
// pending registrations other than exclude.
func PendingReserved(regs []domain.Registration, exclude uuid.UUID) map[string]int {
	out := make(map[string]int)
	for _, r := range regs {
		if r.Status != domain.StatusPending || r.ID == exclude {
			continue
		}
		for _, sv := range r.SelectedVariants {
			out[sv.Name] += sv.Quantity
		}
	}
	return out
}

// PendingQuantity sums the quantity of pending registrations.
func PendingQuantity(regs []domain.Registration) int {
	n := 0
	for _, r := range regs {
		if r.Status == domain.StatusPending {
			n += r.Quantity
		}
	}
	return n
}

// Normalize validates a selection against the event's variants, merges
// repeated names and returns the total quantity. The total never exceeds
// the event limit, so merged quantities cannot wrap.
func Normalize(e *domain.Event, sel []domain.SelectedVariant) ([]domain.SelectedVariant, int, error) {
	merged := make([]domain.SelectedVariant, 0, len(sel))
	index := make(map[string]int)
	total := 0
	for _, sv := range sel {
		if sv.Quantity < 1 {
			return nil, 0, domain.Validation("quantity for variant %q must be at least 1", sv.Name)
		}
		if e.Variant(sv.Name) == nil {
			return nil, 0, domain.Validation("unknown variant %q", sv.Name)
		}
		if sv.Quantity > e.Limit-total {
			return nil, 0, domain.Validation("quantity may not exceed the event limit of %d", e.Limit)
		}
		if i, ok := index[sv.Name]; ok {
			merged[i].Quantity += sv.Quantity
		} else {
			index[sv.Name] = len(merged)
			merged = append(merged, sv)
		}
		total += sv.Quantity
	}
	return merged, total, nil
}

// CheckAdmission denies a new order whose variants are not covered by
// stock minus what other pending orders already hold.
func CheckAdmission(e *domain.Event, pending []domain.Registration, sel []domain.SelectedVariant) error {
	reserved := PendingReserved(pending, uuid.Nil)
	for _, sv := range sel {
		v := e.Variant(sv.Name)
		if v == nil {
			return domain.Validation("unknown variant %q", sv.Name)
		}
		available := v.Stock - reserved[sv.Name]
		if available < sv.Quantity {
			if available < 0 {
				available = 0
			}
			return domain.Conflict(domain.ErrInsufficientStock, "Variant %s has only %d available", sv.Name, available)
		}
	}
	return nil
}

// CheckStock validates a selection against current stock only.
func CheckStock(e *domain.Event, sel []domain.SelectedVariant) error {
	for _, sv := range sel {
		v := e.Variant(sv.Name)
		if v == nil {
			return domain.Conflict(domain.ErrInsufficientStock, "Variant %s is no longer offered", sv.Name)
		}
		if v.Stock < sv.Quantity {
			return domain.Conflict(domain.ErrInsufficientStock, "Variant %s has only %d available", sv.Name, v.Stock)
		}
	}
	return nil
}

// Take decrements stock for an approved selection. Nothing is changed when
// any variant falls short.
func Take(e *domain.Event, sel []domain.SelectedVariant) error {
	if err := CheckStock(e, sel); err != nil {
		return err
	}
	for _, sv := range sel {
		e.Variant(sv.Name).Stock -= sv.Quantity
	}
	return nil
}

// Restore gives stock back for a cancelled confirmed order. Variants that
// were removed from the event since are skipped.
func Restore(e *domain.Event, sel []domain.SelectedVariant) {
	for _, sv := range sel {
		if v := e.Variant(sv.Name); v != nil {
			v.Stock += sv.Quantity
		}
	}
}

// CheckPurchaseLimit sums the participant's active quantities and rejects
// qty when it would go over the per-user limit. A zero limit is unlimited.
func CheckPurchaseLimit(e *domain.Event, own []domain.Registration, qty int) error {
	if e.PurchaseLimitPerUser <= 0 {
		return nil
	}
	held := 0
	for _, r := range own {
		if r.Status.Active() {
			held += r.Quantity
		}
	}
	if held+qty > e.PurchaseLimitPerUser {
		left := e.PurchaseLimitPerUser - held
		if left < 0 {
			left = 0
		}
		return domain.Conflict(domain.ErrPurchaseLimit, "purchase limit is %d per person; you can buy %d more", e.PurchaseLimitPerUser, left)
	}
	return nil
}
