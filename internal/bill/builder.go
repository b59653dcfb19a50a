package bill

import (
	"fmt"
	"strings"

	"github.com/noah-isme/backend-settle/internal/pricing"
)

// Normalize validates items and merges lines sharing a menu item, keeping
// first-seen order.
func Normalize(items []BillItem) ([]BillItem, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	out := make([]BillItem, 0, len(items))
	pos := make(map[string]int, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.MenuItemID)
		switch {
		case id == "":
			return nil, fmt.Errorf("%w: blank menu item id", ErrInvalidItem)
		case it.Quantity < 1:
			return nil, fmt.Errorf("%w: %s quantity %d", ErrInvalidItem, id, it.Quantity)
		case it.UnitPrice < 0:
			return nil, fmt.Errorf("%w: %s negative price", ErrInvalidItem, id)
		}
		if i, ok := pos[id]; ok {
			if out[i].UnitPrice != it.UnitPrice {
				return nil, fmt.Errorf("%w: %s has conflicting prices", ErrInvalidItem, id)
			}
			out[i].Quantity += it.Quantity
			continue
		}
		it.MenuItemID = id
		pos[id] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// Build produces the opening bill for items. It has no side effects and the
// same input always yields the same bill.
func Build(items []BillItem, rates pricing.Rates) (Bill, error) {
	norm, err := Normalize(items)
	if err != nil {
		return Bill{}, err
	}
	return Project(norm, nil, rates), nil
}

// Project recomputes the outstanding bill for normalized items after payments.
// Totals cover unpaid instances only; credit is money received without item
// claims that later claims have not consumed yet.
func Project(items []BillItem, payments []Payment, rates pricing.Rates) Bill {
	claims := ClaimsOf(payments)

	var unpaid pricing.Money
	units := 0
	for _, it := range items {
		for i := 0; i < it.Quantity; i++ {
			if _, ok := claims[InstanceID{MenuItemID: it.MenuItemID, Index: i}]; ok {
				continue
			}
			unpaid += it.UnitPrice
			units++
		}
	}

	b := pricing.Compute(unpaid, rates)
	paid, credit := Credit(payments)
	remaining := b.Total - credit
	if remaining < 0 {
		remaining = 0
	}

	ps := make([]Payment, len(payments))
	copy(ps, payments)
	lines := make([]BillItem, len(items))
	copy(lines, items)

	return Bill{
		Items:            lines,
		Subtotal:         b.Subtotal,
		ServiceCharge:    b.ServiceCharge,
		Tip:              b.Tip,
		TipPercent:       rates.TipPercent,
		Total:            b.Total,
		Paid:             paid,
		Credit:           credit,
		Remaining:        remaining,
		OutstandingUnits: units,
		Payments:         ps,
	}
}

// Credit returns the sum of all payments and the unapplied credit.
func Credit(payments []Payment) (paid, credit pricing.Money) {
	for _, p := range payments {
		paid += p.Amount
		if len(p.Claims) == 0 {
			credit += p.Amount
		}
		credit -= p.CreditApplied
	}
	if credit < 0 {
		credit = 0
	}
	return paid, credit
}
