// Package apikey verifies static gateway keys presented as bearer tokens.
// Keys are configured with the caller they stand for, so a key carries
// its own tenant, tier, and sandbox scopes.
package apikey

import (
	"context"
	"crypto/sha256"
	"net/http"
	"strings"

	"github.com/sandpit-dev/sandpit/pkg/auth"
)

// Key pairs a secret with the caller it authenticates.
type Key struct {
	Secret string
	Caller auth.Caller
}

// Verifier matches bearer tokens against configured gateway keys.
// Secrets are digested at construction; plaintext is not retained, and
// lookups compare fixed-size digests so a miss reveals nothing about the
// stored keys.
type Verifier struct {
	callers map[[sha256.Size]byte]auth.Caller
}

// New builds a verifier from the configured keys.
func New(keys []Key) *Verifier {
	v := &Verifier{callers: make(map[[sha256.Size]byte]auth.Caller, len(keys))}
	for _, k := range keys {
		v.callers[sha256.Sum256([]byte(k.Secret))] = k.Caller
	}
	return v
}

// Verify votes on the request's Authorization header. Requests without a
// bearer token are skipped so another verifier may claim them; a bearer
// token that matches no key is rejected.
func (v *Verifier) Verify(_ context.Context, r *http.Request) auth.Outcome {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return auth.Outcome{Verdict: auth.Skip}
	}
	if token == "" {
		return auth.Outcome{Verdict: auth.Reject, Err: auth.ErrBadCredentials}
	}

	caller, found := v.callers[sha256.Sum256([]byte(token))]
	if !found {
		return auth.Outcome{Verdict: auth.Reject, Err: auth.ErrBadCredentials}
	}

	// Copy so callers never share the stored value.
	c := caller
	return auth.Outcome{Verdict: auth.Accept, Caller: &c}
}
