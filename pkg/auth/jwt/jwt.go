// Package jwt verifies OIDC bearer tokens for the gateway. Signatures
// are checked against the issuer's published JWKS; the token's claims
// become the caller's subject, tenant, and sandbox scopes.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/sandpit-dev/sandpit/pkg/auth"
)

// Config describes the trusted issuer and how its claims map to callers.
type Config struct {
	// Issuer is matched against the iss claim. Empty skips the check.
	Issuer string

	// Audience is matched against the aud claim. Empty skips the check.
	Audience string

	// JWKSURL is where the issuer publishes its signing keys.
	JWKSURL string

	// SubjectClaim names the claim holding the caller subject ("sub").
	SubjectClaim string

	// TenantClaim names the claim holding the tenant ("tenant_id").
	TenantClaim string

	// ScopesClaim names the claim holding sandbox scopes ("scope"),
	// as either a space-separated string or a JSON array.
	ScopesClaim string

	// RefreshInterval bounds how long fetched signing keys are reused
	// before the JWKS is fetched again (1 hour).
	RefreshInterval time.Duration

	// Client issues the JWKS fetches; http.DefaultClient when nil.
	Client *http.Client
}

func (c *Config) fill() {
	if c.SubjectClaim == "" {
		c.SubjectClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = time.Hour
	}
	if c.Client == nil {
		c.Client = http.DefaultClient
	}
}

// Verifier validates RSA-signed bearer tokens against a JWKS endpoint.
type Verifier struct {
	cfg  Config
	keys *keyset
}

// New creates a verifier for the configured issuer.
func New(cfg Config) *Verifier {
	cfg.fill()
	return &Verifier{
		cfg: cfg,
		keys: &keyset{
			url:    cfg.JWKSURL,
			every:  cfg.RefreshInterval,
			client: cfg.Client,
			byKID:  make(map[string]*rsa.PublicKey),
		},
	}
}

// Verify votes on the request's Authorization header. Requests without a
// bearer token are skipped; a bearer token that fails signature or claim
// validation is rejected.
func (v *Verifier) Verify(ctx context.Context, r *http.Request) auth.Outcome {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return auth.Outcome{Verdict: auth.Skip}
	}
	if raw == "" {
		return auth.Outcome{Verdict: auth.Reject, Err: auth.ErrBadCredentials}
	}

	token, err := jwtlib.Parse(raw, func(t *jwtlib.Token) (any, error) {
		if _, rsaSigned := t.Method.(*jwtlib.SigningMethodRSA); !rsaSigned {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header has no kid")
		}
		return v.keys.lookup(ctx, kid)
	}, v.claimChecks()...)
	if err != nil {
		slog.Debug("token rejected", "error", err)
		return auth.Outcome{Verdict: auth.Reject, Err: fmt.Errorf("invalid token: %w", err)}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.Outcome{Verdict: auth.Reject, Err: auth.ErrBadCredentials}
	}

	caller, err := v.callerFrom(claims)
	if err != nil {
		return auth.Outcome{Verdict: auth.Reject, Err: err}
	}
	return auth.Outcome{Verdict: auth.Accept, Caller: caller}
}

func (v *Verifier) claimChecks() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(v.cfg.Audience))
	}
	return opts
}

// callerFrom maps validated claims to a Caller. The subject claim is
// required; tenant and scopes are optional.
func (v *Verifier) callerFrom(claims jwtlib.MapClaims) (*auth.Caller, error) {
	subject, _ := claims[v.cfg.SubjectClaim].(string)
	if subject == "" {
		return nil, fmt.Errorf("token has no %q claim", v.cfg.SubjectClaim)
	}
	tenant, _ := claims[v.cfg.TenantClaim].(string)
	return &auth.Caller{
		Subject: subject,
		Tenant:  tenant,
		Scopes:  scopeList(claims[v.cfg.ScopesClaim]),
	}, nil
}

// scopeList accepts the two common encodings of a scope claim.
func scopeList(claim any) []string {
	switch v := claim.(type) {
	case string:
		return strings.Fields(v)
	case []any:
		var scopes []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	default:
		return nil
	}
}

// keyset holds the issuer's RSA signing keys, refreshed from the JWKS
// endpoint when a kid is unknown or the keys have gone stale.
type keyset struct {
	url    string
	every  time.Duration
	client *http.Client

	mu      sync.RWMutex
	byKID   map[string]*rsa.PublicKey
	fetched time.Time
}

func (k *keyset) lookup(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	key, fresh := k.byKID[kid], time.Since(k.fetched) < k.every
	k.mu.RUnlock()
	if key != nil && fresh {
		return key, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// Another request may have refreshed while this one waited.
	if key := k.byKID[kid]; key != nil && time.Since(k.fetched) < k.every {
		return key, nil
	}
	if err := k.refresh(ctx); err != nil {
		return nil, err
	}
	key = k.byKID[kid]
	if key == nil {
		return nil, fmt.Errorf("no key %q in JWKS", kid)
	}
	return key, nil
}

// refresh replaces the key map from the JWKS endpoint. Caller holds the
// write lock.
func (k *keyset) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("building JWKS request: %w", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned %d", resp.StatusCode)
	}

	var doc keysDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decoding JWKS: %w", err)
	}

	next := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		key, err := rsaFromJWK(jwk)
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", jwk.Kid, "error", err)
			continue
		}
		next[jwk.Kid] = key
	}

	k.byKID = next
	k.fetched = time.Now()
	slog.Debug("JWKS refreshed", "keys", len(next), "url", k.url)
	return nil
}

type keysDoc struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func rsaFromJWK(j jwk) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > int64(^uint32(0)) {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
