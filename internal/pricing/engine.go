package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

var hundred = decimal.NewFromInt(100)

// Rates carries the charges applied on top of an item subtotal.
type Rates struct {
	// Service is a fraction, e.g. 0.08999 for 8.999%.
	Service    decimal.Decimal
	TipPercent int
}

// TipRate returns the tip percentage as a fraction.
func (r Rates) TipRate() decimal.Decimal {
	return decimal.NewFromInt(int64(r.TipPercent)).Div(hundred)
}

// WithTip returns a copy of r using the given tip percentage.
func (r Rates) WithTip(percent int) Rates {
	r.TipPercent = percent
	return r
}

// Breakdown aggregates computed pricing components.
type Breakdown struct {
	Subtotal      Money `json:"subtotal"`
	ServiceCharge Money `json:"serviceCharge"`
	Tip           Money `json:"tip"`
	Total         Money `json:"total"`
}

// Compute applies service and tip rates to subtotal.
func Compute(subtotal Money, rates Rates) Breakdown {
	if subtotal < 0 {
		subtotal = 0
	}
	service := ApplyRate(subtotal, rates.Service)
	tip := ApplyRate(subtotal, rates.TipRate())
	return Breakdown{
		Subtotal:      subtotal,
		ServiceCharge: service,
		Tip:           tip,
		Total:         subtotal + service + tip,
	}
}

// ApplyRate multiplies amount by rate, rounding half away from zero to a minor unit.
func ApplyRate(amount Money, rate decimal.Decimal) Money {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// Share returns amount*part/whole rounded to a minor unit. A zero whole yields zero.
func Share(amount, part, whole Money) Money {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(part)).
		Div(decimal.NewFromInt(whole)).
		Round(0).
		IntPart()
}

// SplitEven divides total into n shares. Every share but the last is floored;
// the last absorbs the remainder so the shares sum to total.
func SplitEven(total Money, n int) []Money {
	if n <= 0 {
		return nil
	}
	base := total / Money(n)
	shares := make([]Money, n)
	for i := 0; i < n-1; i++ {
		shares[i] = base
	}
	shares[n-1] = total - base*Money(n-1)
	return shares
}

// ParseRatePercent converts a percentage string such as "8.999" into a fraction.
func ParseRatePercent(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing: invalid rate %q: %w", raw, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("pricing: negative rate %q", raw)
	}
	return d.Div(hundred), nil
}

// FormatMoney renders m with two decimals and the currency code, e.g. "31.00 USD".
func FormatMoney(m Money, currency string) string {
	s := decimal.New(m, -2).StringFixed(2)
	if currency == "" {
		return s
	}
	return s + " " + currency
}
