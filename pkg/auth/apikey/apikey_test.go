package apikey

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/sandpit-dev/sandpit/pkg/auth"
)

func testVerifier() *Verifier {
	return New([]Key{
		{
			Secret: "sk-gw-ci-7f3a",
			Caller: auth.Caller{
				Subject: "ci-runner",
				Tenant:  "team-data",
				Tier:    "standard",
			},
		},
		{
			Secret: "sk-gw-batch-91bc",
			Caller: auth.Caller{
				Subject: "batch-bot",
				Tier:    "premium",
				Scopes:  []string{auth.ScopeRun},
			},
		},
	})
}

func verify(v *Verifier, authorization string) auth.Outcome {
	r := httptest.NewRequest("POST", "/v1/sessions/build-42/batch", nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	return v.Verify(context.Background(), r)
}

func TestKnownKey(t *testing.T) {
	out := verify(testVerifier(), "Bearer sk-gw-ci-7f3a")

	if out.Verdict != auth.Accept {
		t.Fatalf("verdict = %d, want Accept", out.Verdict)
	}
	if out.Caller.Subject != "ci-runner" {
		t.Errorf("subject = %q, want ci-runner", out.Caller.Subject)
	}
	if out.Caller.Tenant != "team-data" {
		t.Errorf("tenant = %q, want team-data", out.Caller.Tenant)
	}
	if out.Caller.Tier != "standard" {
		t.Errorf("tier = %q, want standard", out.Caller.Tier)
	}
}

func TestScopedKey(t *testing.T) {
	out := verify(testVerifier(), "Bearer sk-gw-batch-91bc")

	if out.Verdict != auth.Accept {
		t.Fatalf("verdict = %d, want Accept", out.Verdict)
	}
	if !out.Caller.Can(auth.ScopeRun) {
		t.Error("key should grant the run scope")
	}
	if out.Caller.Can(auth.ScopeAdmin) {
		t.Error("key should not grant the admin scope")
	}
}

func TestUnknownKey(t *testing.T) {
	out := verify(testVerifier(), "Bearer sk-gw-revoked")

	if out.Verdict != auth.Reject {
		t.Fatalf("verdict = %d, want Reject", out.Verdict)
	}
	if out.Err == nil {
		t.Error("expected a rejection error")
	}
}

func TestEmptyBearer(t *testing.T) {
	if out := verify(testVerifier(), "Bearer "); out.Verdict != auth.Reject {
		t.Fatalf("verdict = %d, want Reject for empty token", out.Verdict)
	}
}

func TestNonBearerSkipped(t *testing.T) {
	for name, header := range map[string]string{
		"no header":  "",
		"basic auth": "Basic dXNlcjpwYXNz",
	} {
		t.Run(name, func(t *testing.T) {
			if out := verify(testVerifier(), header); out.Verdict != auth.Skip {
				t.Fatalf("verdict = %d, want Skip", out.Verdict)
			}
		})
	}
}

func TestCallerCopied(t *testing.T) {
	v := testVerifier()

	first := verify(v, "Bearer sk-gw-ci-7f3a")
	first.Caller.Tenant = "mutated"

	second := verify(v, "Bearer sk-gw-ci-7f3a")
	if second.Caller.Tenant != "team-data" {
		t.Errorf("tenant = %q, want team-data (stored caller must not be shared)", second.Caller.Tenant)
	}
}
