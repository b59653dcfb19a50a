package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/backend-settle/internal/bill"
	"github.com/noah-isme/backend-settle/internal/pricing"
)

var (
	ErrConflict           = errors.New("ledger: conflicting commit")
	ErrOverpayment        = errors.New("ledger: overpayment")
	ErrBillAlreadySettled = errors.New("ledger: bill already settled")
	ErrInvalidAmount      = errors.New("ledger: invalid amount")
	ErrInvalidCommit      = errors.New("ledger: invalid commit")
)

// ConflictError is returned when claimed instances were taken by an earlier
// commit, or when the committed amount no longer matches the live quote.
type ConflictError struct {
	Instances []bill.InstanceID
	Expected  pricing.Money
	Got       pricing.Money
	Stale     bool
}

func (e *ConflictError) Error() string {
	if len(e.Instances) > 0 {
		keys := make([]string, len(e.Instances))
		for i, id := range e.Instances {
			keys[i] = id.Key()
		}
		return ErrConflict.Error() + ": already claimed " + strings.Join(keys, ", ")
	}
	return fmt.Sprintf("%s: quote changed, expected %d got %d", ErrConflict, e.Expected, e.Got)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// OverpaymentError reports an amount above the remaining balance.
type OverpaymentError struct {
	Amount    pricing.Money
	Remaining pricing.Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("%s: amount %d exceeds remaining %d", ErrOverpayment, e.Amount, e.Remaining)
}

func (e *OverpaymentError) Is(target error) bool { return target == ErrOverpayment }
