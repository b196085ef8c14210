package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sandpit-dev/sandpit/pkg/observability"
	"github.com/sandpit-dev/sandpit/pkg/storage"
)

// DefaultBypass lists paths served without credentials.
var DefaultBypass = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates every request outside the bypass list, checks
// the caller's sandbox scopes, applies the rate limit, and attaches the
// caller and its tenant to the request context. Session records written
// downstream are scoped to that tenant.
//
// Scope rules: running a batch needs ScopeRun; closing a session (DELETE)
// additionally needs ScopeAdmin. Callers without scopes pass both checks.
func Middleware(chain *Chain, limiter Limiter, bypass []string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(bypass))
	for _, p := range bypass {
		open[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			out := chain.Verify(r.Context(), r)
			if out.Verdict != Accept {
				slog.Warn("request rejected",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", out.Err,
				)
				observability.AuthDeniedTotal.WithLabelValues("unauthenticated").Inc()
				deny(w, http.StatusUnauthorized, "invalid_request", "authentication required")
				return
			}

			caller := out.Caller
			if caller == nil || caller.Subject == "" {
				slog.Error("verifier accepted a request without a subject")
				deny(w, http.StatusInternalServerError, "server_error", "internal authentication error")
				return
			}

			if denied := scopeFor(r); denied != "" && !caller.Can(denied) {
				slog.Warn("scope denied",
					"subject", caller.Subject,
					"scope", denied,
					"path", r.URL.Path,
				)
				observability.AuthDeniedTotal.WithLabelValues("forbidden").Inc()
				deny(w, http.StatusForbidden, "permission_denied", "missing scope "+denied)
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), caller); err != nil {
					slog.Warn("rate limit exceeded", "subject", caller.Subject, "tier", caller.Tier)
					observability.RateLimitRejectedTotal.WithLabelValues(caller.Tier).Inc()
					deny(w, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
					return
				}
			}

			ctx := WithCaller(r.Context(), caller)
			if caller.Tenant != "" {
				ctx = storage.SetTenant(ctx, caller.Tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// scopeFor maps a request to the scope it requires, or "" for none.
// Closing a session is destructive, so it is gated behind the admin scope.
func scopeFor(r *http.Request) string {
	if r.Method == http.MethodDelete {
		return ScopeAdmin
	}
	return ScopeRun
}

func deny(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {"type": kind, "message": msg},
	})
}
