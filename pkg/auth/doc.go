// Package auth guards the gateway's session API.
//
// Credentials are checked by a chain of verifiers. Each verifier votes on
// a request: Accept attaches a Caller, Reject stops the chain, and Skip
// passes the request to the next verifier (the credentials are not of its
// kind). Static gateway keys and OIDC bearer tokens live in subpackages;
// a chain may carry both so keys and tokens coexist on one listener.
//
// The accepted Caller drives three downstream decisions: its scopes gate
// batch execution and session teardown, its tier selects a rate limit,
// and its tenant partitions the session records written to storage.
package auth
