package auth

import (
	"context"
	"net/http"
	"testing"
)

// fixedVerifier always votes the same way.
type fixedVerifier struct {
	out Outcome
}

func (f *fixedVerifier) Verify(_ context.Context, _ *http.Request) Outcome {
	return f.out
}

func accepting(subject string) *fixedVerifier {
	return &fixedVerifier{out: Outcome{Verdict: Accept, Caller: &Caller{Subject: subject}}}
}

func rejecting() *fixedVerifier {
	return &fixedVerifier{out: Outcome{Verdict: Reject, Err: ErrBadCredentials}}
}

func skipping() *fixedVerifier {
	return &fixedVerifier{out: Outcome{Verdict: Skip}}
}

func verifyChain(t *testing.T, c *Chain) Outcome {
	t.Helper()
	r, err := http.NewRequest("POST", "/v1/sessions/build-42/batch", nil)
	if err != nil {
		t.Fatal(err)
	}
	return c.Verify(context.Background(), r)
}

func TestChainStopsAtFirstAccept(t *testing.T) {
	c := &Chain{Verifiers: []Verifier{accepting("ci-runner"), rejecting()}}

	out := verifyChain(t, c)
	if out.Verdict != Accept {
		t.Fatalf("verdict = %d, want Accept", out.Verdict)
	}
	if out.Caller.Subject != "ci-runner" {
		t.Errorf("subject = %q, want ci-runner", out.Caller.Subject)
	}
}

func TestChainStopsAtFirstReject(t *testing.T) {
	c := &Chain{Verifiers: []Verifier{rejecting(), accepting("ci-runner")}}

	out := verifyChain(t, c)
	if out.Verdict != Reject {
		t.Fatalf("verdict = %d, want Reject", out.Verdict)
	}
	if out.Err == nil {
		t.Error("expected a rejection error")
	}
}

func TestChainSkipFallsThrough(t *testing.T) {
	c := &Chain{Verifiers: []Verifier{skipping(), accepting("batch-bot")}}

	out := verifyChain(t, c)
	if out.Verdict != Accept || out.Caller.Subject != "batch-bot" {
		t.Fatalf("got %+v, want Accept for batch-bot", out)
	}
}

func TestChainAllSkipRejectsByDefault(t *testing.T) {
	for _, c := range []*Chain{
		{Verifiers: []Verifier{skipping(), skipping()}},
		{}, // empty chain
	} {
		out := verifyChain(t, c)
		if out.Verdict != Reject {
			t.Fatalf("verdict = %d, want Reject without credentials", out.Verdict)
		}
		if out.Err != ErrNoCredentials {
			t.Errorf("err = %v, want ErrNoCredentials", out.Err)
		}
	}
}

func TestChainAnonymousFallback(t *testing.T) {
	c := &Chain{Verifiers: []Verifier{skipping()}, AllowAnonymous: true}

	out := verifyChain(t, c)
	if out.Verdict != Accept {
		t.Fatalf("verdict = %d, want Accept (anonymous allowed)", out.Verdict)
	}
	if out.Caller.Subject != "anonymous" {
		t.Errorf("subject = %q, want anonymous", out.Caller.Subject)
	}
}

func TestCallerCan(t *testing.T) {
	tests := []struct {
		name   string
		caller *Caller
		scope  string
		want   bool
	}{
		{"nil caller", nil, ScopeRun, false},
		{"no scopes is unrestricted", &Caller{Subject: "ci-runner"}, ScopeAdmin, true},
		{"granted scope", &Caller{Scopes: []string{ScopeRun}}, ScopeRun, true},
		{"missing scope", &Caller{Scopes: []string{ScopeRun}}, ScopeAdmin, false},
		{"both granted", &Caller{Scopes: []string{ScopeRun, ScopeAdmin}}, ScopeAdmin, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.caller.Can(tt.scope); got != tt.want {
				t.Errorf("Can(%q) = %v, want %v", tt.scope, got, tt.want)
			}
		})
	}
}

func TestCallerContext(t *testing.T) {
	ctx := context.Background()
	if CallerFrom(ctx) != nil {
		t.Error("expected nil caller from a bare context")
	}

	ctx = WithCaller(ctx, &Caller{Subject: "ci-runner", Tenant: "team-data"})
	got := CallerFrom(ctx)
	if got == nil || got.Subject != "ci-runner" || got.Tenant != "team-data" {
		t.Errorf("got %+v, want ci-runner in team-data", got)
	}
}
