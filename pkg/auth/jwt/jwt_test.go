package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/sandpit-dev/sandpit/pkg/auth"
)

const (
	testIssuer   = "https://sso.sandpit.example"
	testAudience = "sandpit-gateway"
	signingKID   = "gw-signing-1"
)

var signingKey = func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(fmt.Sprintf("generating signing key: %v", err))
	}
	return key
}()

// serveKeys publishes the test public key as a JWKS document, counting
// fetches when asked.
func serveKeys(fetches *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if fetches != nil {
			fetches.Add(1)
		}
		pub := signingKey.PublicKey
		doc := map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": signingKID,
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}
}

// mint signs a token with standard gateway claims, letting the test
// adjust them first.
func mint(t *testing.T, adjust func(jwtlib.MapClaims)) string {
	t.Helper()
	claims := jwtlib.MapClaims{
		"sub": "runner-7",
		"iss": testIssuer,
		"aud": testAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	if adjust != nil {
		adjust(claims)
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	token.Header["kid"] = signingKID
	signed, err := token.SignedString(signingKey)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// newVerifier spins up a JWKS server and a verifier pointed at it.
func newVerifier(t *testing.T, adjust func(*Config), fetches *atomic.Int32) *Verifier {
	t.Helper()
	srv := httptest.NewServer(serveKeys(fetches))
	t.Cleanup(srv.Close)

	cfg := Config{
		Issuer:   testIssuer,
		Audience: testAudience,
		JWKSURL:  srv.URL + "/.well-known/jwks.json",
	}
	if adjust != nil {
		adjust(&cfg)
	}
	return New(cfg)
}

func verify(v *Verifier, authorization string) auth.Outcome {
	r := httptest.NewRequest("POST", "/v1/sessions/build-42/batch", nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	return v.Verify(context.Background(), r)
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	v := newVerifier(t, nil, nil)
	token := mint(t, func(c jwtlib.MapClaims) {
		c["tenant_id"] = "team-data"
		c["scope"] = "sandbox:run sandbox:admin"
	})

	out := verify(v, "Bearer "+token)
	if out.Verdict != auth.Accept {
		t.Fatalf("verdict = %d, want Accept; err=%v", out.Verdict, out.Err)
	}
	if out.Caller.Subject != "runner-7" {
		t.Errorf("subject = %q, want runner-7", out.Caller.Subject)
	}
	if out.Caller.Tenant != "team-data" {
		t.Errorf("tenant = %q, want team-data", out.Caller.Tenant)
	}
	if !out.Caller.Can(auth.ScopeRun) || !out.Caller.Can(auth.ScopeAdmin) {
		t.Errorf("scopes = %v, want run and admin granted", out.Caller.Scopes)
	}
}

func TestVerifyRejectsBadClaims(t *testing.T) {
	tests := []struct {
		name   string
		adjust func(jwtlib.MapClaims)
	}{
		{"expired", func(c jwtlib.MapClaims) {
			c["exp"] = time.Now().Add(-time.Hour).Unix()
			c["iat"] = time.Now().Add(-2 * time.Hour).Unix()
		}},
		{"wrong audience", func(c jwtlib.MapClaims) { c["aud"] = "billing-api" }},
		{"wrong issuer", func(c jwtlib.MapClaims) { c["iss"] = "https://sso.intruder.example" }},
		{"missing subject", func(c jwtlib.MapClaims) { delete(c, "sub") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVerifier(t, nil, nil)
			out := verify(v, "Bearer "+mint(t, tt.adjust))
			if out.Verdict != auth.Reject {
				t.Fatalf("verdict = %d, want Reject", out.Verdict)
			}
		})
	}
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	v := newVerifier(t, nil, nil)
	for name, token := range map[string]string{
		"empty bearer": "",
		"garbage":      "not-a-token",
		"truncated":    "eyJhbGciOiJSUzI1NiJ9.missing-parts",
	} {
		t.Run(name, func(t *testing.T) {
			if out := verify(v, "Bearer "+token); out.Verdict != auth.Reject {
				t.Fatalf("verdict = %d, want Reject", out.Verdict)
			}
		})
	}
}

func TestVerifySkipsWithoutBearer(t *testing.T) {
	v := newVerifier(t, nil, nil)
	for name, header := range map[string]string{
		"no header":  "",
		"basic auth": "Basic dXNlcjpwYXNz",
	} {
		t.Run(name, func(t *testing.T) {
			if out := verify(v, header); out.Verdict != auth.Skip {
				t.Fatalf("verdict = %d, want Skip", out.Verdict)
			}
		})
	}
}

func TestVerifyScopeArrayClaim(t *testing.T) {
	v := newVerifier(t, nil, nil)
	token := mint(t, func(c jwtlib.MapClaims) {
		c["scope"] = []any{"sandbox:run"}
	})

	out := verify(v, "Bearer "+token)
	if out.Verdict != auth.Accept {
		t.Fatalf("verdict = %d, want Accept; err=%v", out.Verdict, out.Err)
	}
	if !out.Caller.Can(auth.ScopeRun) || out.Caller.Can(auth.ScopeAdmin) {
		t.Errorf("scopes = %v, want only sandbox:run", out.Caller.Scopes)
	}
}

func TestVerifyCustomClaimNames(t *testing.T) {
	v := newVerifier(t, func(cfg *Config) {
		cfg.SubjectClaim = "email"
		cfg.TenantClaim = "org"
		cfg.ScopesClaim = "permissions"
	}, nil)
	token := mint(t, func(c jwtlib.MapClaims) {
		delete(c, "sub")
		c["email"] = "runner@sandpit.example"
		c["org"] = "team-ml"
		c["permissions"] = "sandbox:run"
	})

	out := verify(v, "Bearer "+token)
	if out.Verdict != auth.Accept {
		t.Fatalf("verdict = %d, want Accept; err=%v", out.Verdict, out.Err)
	}
	if out.Caller.Subject != "runner@sandpit.example" {
		t.Errorf("subject = %q", out.Caller.Subject)
	}
	if out.Caller.Tenant != "team-ml" {
		t.Errorf("tenant = %q, want team-ml", out.Caller.Tenant)
	}
}

func TestVerifyOptionalIssuerAudienceChecks(t *testing.T) {
	v := newVerifier(t, func(cfg *Config) {
		cfg.Issuer = ""
		cfg.Audience = ""
	}, nil)
	token := mint(t, func(c jwtlib.MapClaims) {
		c["iss"] = "https://sso.elsewhere.example"
		c["aud"] = "something-else"
	})

	if out := verify(v, "Bearer "+token); out.Verdict != auth.Accept {
		t.Fatalf("verdict = %d, want Accept when checks are disabled; err=%v", out.Verdict, out.Err)
	}
}

func TestKeysFetchedOnce(t *testing.T) {
	var fetches atomic.Int32
	v := newVerifier(t, nil, &fetches)
	token := mint(t, nil)

	for i := 0; i < 5; i++ {
		if out := verify(v, "Bearer "+token); out.Verdict != auth.Accept {
			t.Fatalf("request %d: verdict = %d, want Accept; err=%v", i, out.Verdict, out.Err)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("JWKS fetches = %d, want 1", n)
	}
}
