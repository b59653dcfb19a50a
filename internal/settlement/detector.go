package settlement

import (
	"github.com/noah-isme/backend-settle/internal/bill"
	"github.com/noah-isme/backend-settle/internal/pricing"
)

// DefaultEpsilon is the rounding slack tolerated on a remaining balance.
const DefaultEpsilon pricing.Money = 1

// Detector decides whether a bill has been discharged.
type Detector struct {
	Epsilon pricing.Money
}

// Reason explains why a bill counts as settled.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonBalance   Reason = "balance"
	ReasonAllClaims Reason = "all_items_paid"
)

// Status is the detector's verdict for one bill.
type Status struct {
	Settled   bool          `json:"settled"`
	Reason    Reason        `json:"reason,omitempty"`
	Remaining pricing.Money `json:"remaining"`
}

// IsSettled reports whether the remaining balance is within epsilon or every
// instance has been paid.
func (d Detector) IsSettled(b bill.Bill) bool {
	return d.Check(b).Settled
}

// Check returns the settlement status of b. Item completeness wins over the
// balance since proportional rounding can leave sub-unit residue.
func (d Detector) Check(b bill.Bill) Status {
	st := Status{Remaining: b.Remaining}
	switch {
	case len(b.Items) > 0 && b.OutstandingUnits == 0:
		st.Settled, st.Reason = true, ReasonAllClaims
	case b.Remaining <= d.Epsilon:
		st.Settled, st.Reason = true, ReasonBalance
	}
	return st
}
