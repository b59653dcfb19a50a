package common

import "context"

type ctxKey string

const payerKey ctxKey = "auth/payer"

// Payer identifies who is paying, as asserted by an authenticated terminal.
type Payer struct {
	ID    string
	Label string
}

// WithPayer stores the authenticated payer on ctx.
func WithPayer(ctx context.Context, p Payer) context.Context {
	return context.WithValue(ctx, payerKey, p)
}

// PayerFrom extracts the authenticated payer if present.
func PayerFrom(ctx context.Context) (Payer, bool) {
	p, ok := ctx.Value(payerKey).(Payer)
	if !ok || p.ID == "" {
		return Payer{}, false
	}
	return p, true
}
