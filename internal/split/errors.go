package split

import (
	"errors"
	"strings"

	"github.com/noah-isme/backend-settle/internal/bill"
)

var (
	ErrInvalidPartySize = errors.New("split: party size out of range")
	ErrEmptySelection   = errors.New("split: no items selected")
	ErrAlreadyPaid      = errors.New("split: item already paid")
	ErrUnknownInstance  = errors.New("split: unknown item instance")
	ErrUnknownStrategy  = errors.New("split: unknown strategy")
)

// AlreadyPaidError lists the instances that another payment has claimed.
type AlreadyPaidError struct {
	Instances []bill.InstanceID
}

func (e *AlreadyPaidError) Error() string {
	keys := make([]string, len(e.Instances))
	for i, id := range e.Instances {
		keys[i] = id.Key()
	}
	return ErrAlreadyPaid.Error() + ": " + strings.Join(keys, ", ")
}

// Is lets errors.Is match ErrAlreadyPaid.
func (e *AlreadyPaidError) Is(target error) bool {
	return target == ErrAlreadyPaid
}
