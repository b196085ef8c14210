// Package session manages reusable sandbox sessions: stateful remote
// execution environments that persist variables, packages, and files
// across calls.
//
// A Handle owns at most one remote session. The session is created lazily
// on first use under mutual exclusion (double-checked, so concurrent first
// use creates exactly one remote session), driven through fault-isolated
// operation batches (writes, execute, reads, list; each sub-operation's
// failure is recorded without aborting its siblings), and torn down with
// best-effort remote cleanup and unconditional local cleanup. A closed
// handle is reusable: the next batch transparently opens a fresh session
// with a new identifier.
//
// A Registry maps caller-chosen logical names to handles so that several
// transports (HTTP, MCP) can share the same sessions.
package session
