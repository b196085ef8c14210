// Package provider defines the outbound contract to the remote sandbox
// provider: create a session, then drive it through the Sandbox interface
// (write-file, run-code, read-file, list-directory, set-timeout, terminate).
//
// The gateway core (pkg/session) holds exactly one Sandbox per open handle
// and mediates all access to it; no other component touches a Sandbox
// directly.
package provider
