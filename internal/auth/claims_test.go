package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func TestClaimsPayer(t *testing.T) {
	now := time.Now()
	c := Claims{Issuer: "settle", Audience: "till", ClockSkew: time.Second}

	build := func(t *testing.T, mutate func(*jwt.Builder) *jwt.Builder) jwt.Token {
		t.Helper()
		b := c.stamp(jwt.NewBuilder(), "terminal-1", "Customer 1", now, time.Minute)
		if mutate != nil {
			b = mutate(b)
		}
		tok, err := b.Build()
		require.NoError(t, err)
		return tok
	}

	payer, err := c.Payer(build(t, nil), now)
	require.NoError(t, err)
	require.Equal(t, "terminal-1", payer.ID)
	require.Equal(t, "Customer 1", payer.Label)

	cases := map[string]func(*jwt.Builder) *jwt.Builder{
		"issuer mismatch":   func(b *jwt.Builder) *jwt.Builder { return b.Issuer("other") },
		"audience mismatch": func(b *jwt.Builder) *jwt.Builder { return b.Audience([]string{"kiosk"}) },
		"expired":           func(b *jwt.Builder) *jwt.Builder { return b.Expiration(now.Add(-time.Minute)) },
		"not yet valid":     func(b *jwt.Builder) *jwt.Builder { return b.NotBefore(now.Add(5 * time.Minute)) },
		"blank subject":     func(b *jwt.Builder) *jwt.Builder { return b.Subject(" ") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Payer(build(t, mutate), now)
			require.Error(t, err)
		})
	}

	noExpiry, err := jwt.NewBuilder().Subject("terminal-1").Issuer("settle").Audience([]string{"till"}).Build()
	require.NoError(t, err)
	_, err = c.Payer(noExpiry, now)
	require.Error(t, err)

	_, err = c.Payer(nil, now)
	require.Error(t, err)
}
