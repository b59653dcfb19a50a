package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-settle/internal/common"
)

// payerNameClaim carries the payer label shown on the "who has paid" list.
const payerNameClaim = "name"

// Claims are the registered claims a terminal token must satisfy.
type Claims struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// Payer checks tok at now and returns the payer it identifies. Tokens must
// expire and name a subject.
func (c Claims) Payer(tok jwt.Token, now time.Time) (common.Payer, error) {
	if tok == nil {
		return common.Payer{}, errors.New("auth: token is nil")
	}
	if tok.Expiration().IsZero() {
		return common.Payer{}, errors.New("auth: token has no expiry")
	}
	opts := []jwt.ValidateOption{jwt.WithClock(jwt.ClockFunc(func() time.Time { return now }))}
	if c.ClockSkew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(c.ClockSkew))
	}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	if c.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.Audience))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return common.Payer{}, err
	}

	payer := common.Payer{ID: strings.TrimSpace(tok.Subject())}
	if payer.ID == "" {
		return common.Payer{}, errors.New("auth: token has no subject")
	}
	if v, ok := tok.Get(payerNameClaim); ok {
		if name, ok := v.(string); ok {
			payer.Label = strings.TrimSpace(name)
		}
	}
	return payer, nil
}

// stamp sets the claims Payer checks on a token being issued.
func (c Claims) stamp(b *jwt.Builder, subject, label string, now time.Time, ttl time.Duration) *jwt.Builder {
	b = b.Subject(subject).
		IssuedAt(now).
		NotBefore(now.Add(-c.ClockSkew)).
		Expiration(now.Add(ttl))
	if c.Issuer != "" {
		b = b.Issuer(c.Issuer)
	}
	if c.Audience != "" {
		b = b.Audience([]string{c.Audience})
	}
	if label != "" {
		b = b.Claim(payerNameClaim, label)
	}
	return b
}
