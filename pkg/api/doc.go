// Package api defines the wire types shared between the sandpit gateway,
// its transports (HTTP, MCP), and the storage adapters.
//
// The central types are BatchRequest and BatchResult: one call's worth of
// work against a sandbox session (file writes, code execution, file reads,
// directory listing) and its per-category outcome. Every sub-operation is
// reported independently, so a result can carry both failures and successes
// from the same batch.
//
// ID generation follows a prefixed random-alphanumeric scheme (sess_, req_)
// using crypto/rand.
package api
