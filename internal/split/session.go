package split

import (
	"fmt"
	"sort"

	"github.com/noah-isme/backend-settle/internal/bill"
	"github.com/noah-isme/backend-settle/internal/pricing"
)

// Session is one payer's transient split state. It is not safe for concurrent
// use; callers serialize access.
type Session struct {
	ID         string
	BillID     string
	PayerID    string
	PayerLabel string
	Strategy   bill.Strategy
	PartySize  int
	TipPercent int

	selected map[bill.InstanceID]struct{}
	quoted   *pricing.Money
}

// NewSession starts a session paying the full remaining balance.
func NewSession(id, billID, payerID, payerLabel string, tipPercent int) *Session {
	return &Session{
		ID:         id,
		BillID:     billID,
		PayerID:    payerID,
		PayerLabel: payerLabel,
		Strategy:   bill.StrategyFull,
		PartySize:  2,
		TipPercent: tipPercent,
		selected:   make(map[bill.InstanceID]struct{}),
	}
}

// SetStrategy switches the active strategy. Party size is only meaningful for
// even splits and is checked when quoting.
func (s *Session) SetStrategy(strategy bill.Strategy, partySize int) error {
	if !strategy.Valid() || strategy == bill.StrategyExternal {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	s.Strategy = strategy
	if partySize != 0 {
		s.PartySize = partySize
	}
	return nil
}

// SetTipPercent changes the tip this payer quotes with.
func (s *Session) SetTipPercent(percent int, policy pricing.TipPolicy) error {
	if err := policy.Validate(percent); err != nil {
		return err
	}
	s.TipPercent = percent
	return nil
}

// IsSelected reports whether id is in the selection.
func (s *Session) IsSelected(id bill.InstanceID) bool {
	_, ok := s.selected[id]
	return ok
}

// Selected returns the selection in expander order.
func (s *Session) Selected(instances []bill.ItemInstance) []bill.InstanceID {
	out := make([]bill.InstanceID, 0, len(s.selected))
	for _, inst := range instances {
		if s.IsSelected(inst.ID()) {
			out = append(out, inst.ID())
		}
	}
	return out
}

// Toggle flips the selection state of one instance.
func (s *Session) Toggle(id bill.InstanceID, instances []bill.ItemInstance) error {
	inst, ok := find(instances, id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, id.Key())
	}
	if inst.Paid {
		return &AlreadyPaidError{Instances: []bill.InstanceID{id}}
	}
	if s.IsSelected(id) {
		delete(s.selected, id)
	} else {
		s.selected[id] = struct{}{}
	}
	return nil
}

// Adjust selects the next unselected unpaid instance of menuItemID when delta
// is positive, or releases the last selected one when negative. Nothing
// happens at either boundary.
func (s *Session) Adjust(menuItemID string, delta int, instances []bill.ItemInstance) error {
	var own []bill.ItemInstance
	for _, inst := range instances {
		if inst.MenuItemID == menuItemID {
			own = append(own, inst)
		}
	}
	if len(own) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, menuItemID)
	}

	switch {
	case delta > 0:
		for _, inst := range own {
			if !inst.Paid && !s.IsSelected(inst.ID()) {
				s.selected[inst.ID()] = struct{}{}
				return nil
			}
		}
	case delta < 0:
		for i := len(own) - 1; i >= 0; i-- {
			inst := own[i]
			if !s.IsSelected(inst.ID()) {
				continue
			}
			if inst.Paid {
				return &AlreadyPaidError{Instances: []bill.InstanceID{inst.ID()}}
			}
			delete(s.selected, inst.ID())
			return nil
		}
	}
	return nil
}

// Prune drops selected instances that are now paid or no longer exist and
// returns them.
func (s *Session) Prune(instances []bill.ItemInstance) []bill.InstanceID {
	var dropped []bill.InstanceID
	for id := range s.selected {
		inst, ok := find(instances, id)
		if !ok || inst.Paid {
			dropped = append(dropped, id)
			delete(s.selected, id)
		}
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].Key() < dropped[j].Key() })
	return dropped
}

// Pin records the amount last quoted to the payer. A commit without an
// explicit amount charges the pinned amount, never a fresh quote.
func (s *Session) Pin(p Proposal) {
	amount := p.Amount
	s.quoted = &amount
}

// Unpin forgets the pinned quote.
func (s *Session) Unpin() { s.quoted = nil }

// Pinned returns the amount last quoted to the payer.
func (s *Session) Pinned() (pricing.Money, bool) {
	if s.quoted == nil {
		return 0, false
	}
	return *s.quoted, true
}

func find(instances []bill.ItemInstance, id bill.InstanceID) (bill.ItemInstance, bool) {
	for _, inst := range instances {
		if inst.ID() == id {
			return inst, true
		}
	}
	return bill.ItemInstance{}, false
}
