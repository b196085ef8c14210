// Package transport holds the protocol-independent pieces of the sandpit
// HTTP surface: the interfaces the HTTP adapter programs against, the
// middleware chain that wraps them, and the JSON error envelope.
//
// BatchRunner is the narrow contract for running one statement batch on a
// named handle, and is what middleware wraps. SessionManager adds handle
// lifecycle (idle-timeout updates, teardown) on top of it. SessionStore is
// the optional audit-record side, present only when persistence is
// configured.
//
// Built-in middleware covers panic recovery, X-Request-ID propagation, and
// slog-based request logging. InFlightRegistry tracks running batches per
// handle so a DELETE can interrupt them.
package transport
