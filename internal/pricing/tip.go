package pricing

import (
	"errors"
	"fmt"
)

// ErrInvalidTipPercent is returned when a tip falls outside the policy.
var ErrInvalidTipPercent = errors.New("pricing: invalid tip percent")

// TipPolicy bounds the tip a payer may choose.
type TipPolicy struct {
	Min     int
	Max     int
	Step    int
	Default int
}

// DefaultTipPolicy mirrors the tip slider offered to guests.
func DefaultTipPolicy() TipPolicy {
	return TipPolicy{Min: 10, Max: 30, Step: 5, Default: 15}
}

// Validate checks percent against the bounds and step.
func (p TipPolicy) Validate(percent int) error {
	if percent < p.Min || percent > p.Max {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidTipPercent, percent, p.Min, p.Max)
	}
	if p.Step > 0 && (percent-p.Min)%p.Step != 0 {
		return fmt.Errorf("%w: %d is not a multiple of %d from %d", ErrInvalidTipPercent, percent, p.Step, p.Min)
	}
	return nil
}

// Options lists every selectable tip percentage.
func (p TipPolicy) Options() []int {
	step := p.Step
	if step <= 0 {
		step = 1
	}
	var out []int
	for v := p.Min; v <= p.Max; v += step {
		out = append(out, v)
	}
	return out
}
