package auth

import (
	"context"
	"errors"
	"net/http"
)

// Scopes recognized by the gateway. A caller with an empty scope list is
// unrestricted; once a verifier grants scopes, they are enforced.
const (
	// ScopeRun allows running batches against sandbox sessions.
	ScopeRun = "sandbox:run"

	// ScopeAdmin allows tearing down sessions.
	ScopeAdmin = "sandbox:admin"
)

// Caller is the authenticated principal behind a gateway request.
type Caller struct {
	// Subject identifies the principal. Required.
	Subject string

	// Tenant scopes the caller's session records in storage. Empty means
	// the shared namespace.
	Tenant string

	// Tier selects the caller's rate limit.
	Tier string

	// Scopes lists the sandbox permissions granted to this caller.
	// Empty means unrestricted (typical for static gateway keys).
	Scopes []string
}

// Can reports whether the caller may use the given scope.
func (c *Caller) Can(scope string) bool {
	if c == nil {
		return false
	}
	if len(c.Scopes) == 0 {
		return true
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verdict is a verifier's vote on a request.
type Verdict int

const (
	// Skip means the request does not carry this verifier's kind of
	// credentials; the next verifier in the chain is consulted.
	Skip Verdict = iota

	// Accept means the credentials are valid and a Caller is attached.
	Accept

	// Reject means credentials of this verifier's kind are present but
	// invalid. The chain stops.
	Reject
)

// Outcome is the result of verifying one request.
type Outcome struct {
	Verdict Verdict
	Caller  *Caller // set when Verdict == Accept
	Err     error   // set when Verdict == Reject
}

// Verifier inspects a request's credentials and votes.
type Verifier interface {
	Verify(ctx context.Context, r *http.Request) Outcome
}

var (
	ErrNoCredentials  = errors.New("no credentials presented")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

// Chain consults verifiers in order until one votes Accept or Reject.
type Chain struct {
	Verifiers []Verifier

	// AllowAnonymous accepts requests every verifier skipped, attaching
	// an anonymous caller. Meant for development setups; production
	// chains leave it false and reject credential-less requests.
	AllowAnonymous bool
}

// Verify runs the chain against one request.
func (c *Chain) Verify(ctx context.Context, r *http.Request) Outcome {
	for _, v := range c.Verifiers {
		if out := v.Verify(ctx, r); out.Verdict != Skip {
			return out
		}
	}

	if c.AllowAnonymous {
		return Outcome{
			Verdict: Accept,
			Caller:  &Caller{Subject: "anonymous", Tier: "default"},
		}
	}
	return Outcome{Verdict: Reject, Err: ErrNoCredentials}
}
