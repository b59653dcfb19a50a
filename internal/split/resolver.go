package split

import (
	"fmt"

	"github.com/noah-isme/backend-settle/internal/bill"
	"github.com/noah-isme/backend-settle/internal/pricing"
)

// EvenPlan tracks an even split in progress.
type EvenPlan struct {
	PartySize  int           `json:"partySize"`
	TipPercent int           `json:"tipPercent"`
	Base       pricing.Money `json:"base"`
	SharesPaid int           `json:"sharesPaid"`
}

// View is a consistent snapshot of a bill read from the ledger.
type View struct {
	Bill      bill.Bill
	Instances []bill.ItemInstance
	Rates     pricing.Rates
	Even      *EvenPlan
}

// Proposal is the amount a payer owes right now under one strategy.
type Proposal struct {
	Strategy      bill.Strategy     `json:"strategy"`
	Amount        pricing.Money     `json:"amount"`
	Subtotal      pricing.Money     `json:"subtotal"`
	ServiceCharge pricing.Money     `json:"serviceCharge"`
	Tip           pricing.Money     `json:"tip"`
	TipPercent    int               `json:"tipPercent"`
	CreditApplied pricing.Money     `json:"creditApplied"`
	PartySize     int               `json:"partySize,omitempty"`
	ShareIndex    int               `json:"shareIndex,omitempty"`
	ShareBase     pricing.Money     `json:"shareBase,omitempty"`
	Claims        []bill.InstanceID `json:"claims"`
	Committable   bool              `json:"committable"`
}

// CheckCommittable returns the error a commit of p would fail with.
func (p Proposal) CheckCommittable() error {
	if p.Committable {
		return nil
	}
	if p.Strategy == bill.StrategyByItem {
		return ErrEmptySelection
	}
	return fmt.Errorf("%w: nothing left to pay", ErrEmptySelection)
}

// Resolver computes proposals. It never mutates the bill or the ledger.
type Resolver struct {
	PartyMin int
	PartyMax int
}

// DefaultResolver allows parties of 2 to 20.
func DefaultResolver() Resolver {
	return Resolver{PartyMin: 2, PartyMax: 20}
}

// Quote resolves the session's strategy against v.
func (r Resolver) Quote(s *Session, v View) (Proposal, error) {
	var ids []bill.InstanceID
	if s.Strategy == bill.StrategyByItem {
		ids = s.Selected(v.Instances)
	}
	return r.Resolve(v, s.Strategy, s.PartySize, ids)
}

// Resolve computes the proposal for an explicit strategy and selection.
func (r Resolver) Resolve(v View, strategy bill.Strategy, partySize int, selection []bill.InstanceID) (Proposal, error) {
	switch strategy {
	case bill.StrategyFull:
		return r.full(v), nil
	case bill.StrategyEven:
		return r.even(v, partySize)
	case bill.StrategyByItem:
		return r.byItem(v, selection)
	default:
		return Proposal{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// CheckPartySize validates an even split party size.
func (r Resolver) CheckPartySize(n int) error {
	if n < r.PartyMin || n > r.PartyMax {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidPartySize, n, r.PartyMin, r.PartyMax)
	}
	return nil
}

func (r Resolver) full(v View) Proposal {
	b := v.Bill
	return Proposal{
		Strategy:      bill.StrategyFull,
		Amount:        b.Remaining,
		Subtotal:      b.Subtotal,
		ServiceCharge: b.ServiceCharge,
		Tip:           b.Tip,
		TipPercent:    v.Rates.TipPercent,
		CreditApplied: b.Credit,
		Claims:        bill.IDs(bill.Unpaid(v.Instances)),
		Committable:   b.Remaining > 0,
	}
}

func (r Resolver) even(v View, n int) (Proposal, error) {
	if err := r.CheckPartySize(n); err != nil {
		return Proposal{}, err
	}
	b := v.Bill
	p := Proposal{
		Strategy:      bill.StrategyEven,
		PartySize:     n,
		TipPercent:    v.Rates.TipPercent,
		Subtotal:      b.Subtotal / pricing.Money(n),
		ServiceCharge: b.ServiceCharge / pricing.Money(n),
		Tip:           b.Tip / pricing.Money(n),
		Claims:        []bill.InstanceID{},
	}
	if b.Remaining <= 0 {
		return p, nil
	}

	index, base := 1, pricing.SplitEven(b.Remaining, n)[0]
	if plan := v.Even; plan != nil && plan.PartySize == n && plan.TipPercent == v.Rates.TipPercent && plan.SharesPaid < n {
		index, base = plan.SharesPaid+1, plan.Base
	}
	p.ShareIndex, p.ShareBase, p.Committable = index, base, true

	// The last share takes whatever is left, absorbing rounding.
	if index == n || base == 0 || base >= b.Remaining {
		p.Amount = b.Remaining
		p.CreditApplied = b.Credit
		p.Claims = bill.IDs(bill.Unpaid(v.Instances))
		return p, nil
	}
	p.Amount = base
	return p, nil
}

func (r Resolver) byItem(v View, selection []bill.InstanceID) (Proposal, error) {
	p := Proposal{
		Strategy:   bill.StrategyByItem,
		TipPercent: v.Rates.TipPercent,
		Claims:     []bill.InstanceID{},
	}

	index := make(map[bill.InstanceID]bill.ItemInstance, len(v.Instances))
	for _, inst := range v.Instances {
		index[inst.ID()] = inst
	}
	var (
		selected pricing.Money
		paid     []bill.InstanceID
		seen     = make(map[bill.InstanceID]struct{}, len(selection))
	)
	for _, id := range selection {
		inst, ok := index[id]
		if !ok {
			return Proposal{}, fmt.Errorf("%w: %s", ErrUnknownInstance, id.Key())
		}
		if inst.Paid {
			paid = append(paid, id)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		selected += inst.UnitPrice
		p.Claims = append(p.Claims, id)
	}
	if len(paid) > 0 {
		return Proposal{}, &AlreadyPaidError{Instances: paid}
	}
	if len(p.Claims) == 0 {
		return p, nil
	}

	unpaid := bill.Unpaid(v.Instances)
	outstanding := pricing.Compute(bill.Subtotal(unpaid), v.Rates)
	rest := pricing.Compute(outstanding.Subtotal-selected, v.Rates)

	// Charges are allocated by difference so that successive selections add up
	// to the outstanding charges exactly.
	p.Subtotal = selected
	p.ServiceCharge = outstanding.ServiceCharge - rest.ServiceCharge
	p.Tip = outstanding.Tip - rest.Tip
	due := outstanding.Total - rest.Total

	if len(p.Claims) == len(unpaid) {
		p.CreditApplied = v.Bill.Credit
	} else {
		p.CreditApplied = pricing.Share(v.Bill.Credit, due, outstanding.Total)
	}
	if p.CreditApplied > due {
		p.CreditApplied = due
	}
	p.Amount = due - p.CreditApplied
	p.Committable = true
	return p, nil
}
