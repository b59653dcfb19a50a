package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-settle/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// terminalAlgorithm is the only signature algorithm terminals may use.
const terminalAlgorithm = jwa.HS256

// Terminals verifies bearer tokens presented by external payment terminals.
// The token subject becomes the payer id and the optional "name" claim the
// payer label.
type Terminals struct {
	Secret []byte
	Claims Claims
	Now    func() time.Time
}

// NewTerminals builds a verifier for HS256 tokens signed with secret.
func NewTerminals(secret, issuer, audience string) *Terminals {
	return &Terminals{
		Secret: []byte(secret),
		Claims: Claims{Issuer: issuer, Audience: audience, ClockSkew: 30 * time.Second},
	}
}

// Enabled reports whether a signing secret is configured.
func (t *Terminals) Enabled() bool {
	return t != nil && len(t.Secret) > 0
}

func (t *Terminals) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Parse validates token and returns the payer it identifies.
func (t *Terminals) Parse(token string) (common.Payer, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return common.Payer{}, unauthorized(errNoToken)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return common.Payer{}, unauthorized(err)
	}
	if algorithm != terminalAlgorithm {
		return common.Payer{}, unauthorized(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(terminalAlgorithm, t.Secret), jwt.WithValidate(false))
	if err != nil {
		return common.Payer{}, unauthorized(err)
	}
	payer, err := t.Claims.Payer(parsed, t.now())
	if err != nil {
		return common.Payer{}, unauthorized(err)
	}
	return payer, nil
}

// Issue signs a token for a terminal.
func (t *Terminals) Issue(payerID, label string, ttl time.Duration) (string, error) {
	token, err := t.Claims.stamp(jwt.NewBuilder(), payerID, label, t.now(), ttl).Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(terminalAlgorithm, t.Secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// RequireTerminal rejects requests without a valid terminal token. Without a
// configured secret every request passes through anonymously.
func (t *Terminals) RequireTerminal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		payer, err := t.Parse(extractToken(r))
		if err != nil {
			common.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithPayer(r.Context(), payer)))
	})
}

func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func unauthorized(err error) error {
	return common.NewAppError("UNAUTHORIZED", "missing or invalid terminal token", http.StatusUnauthorized, err)
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" || alg == jwa.NoSignature {
			return "", errors.New("auth: token has no usable algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", errors.New("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}
