// Package storage holds what the storage adapters share: the sentinel
// errors they report and the tenant context helpers that scope records
// to their owner. The SessionStore interface itself lives in
// pkg/transport; the adapters under memory/ and postgres/ implement it.
package storage
