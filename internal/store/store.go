// Package store provides the persistence abstraction for trust state
// and audit records.
//
// The engine deliberately depends on a tiny key-value contract instead
// of an ORM-shaped interface: callers own their schemas and serialize
// to JSON documents, the store owns durability. Two implementations
// exist: an in-memory store with JSON snapshot persistence for local
// use and tests, and a SQLite store for single-node production.
package store

import (
	"context"
	"errors"
)

// Collection names used by the engine. The store itself treats
// collections as opaque namespaces.
const (
	CollectionAgents = "agents"
	CollectionAudit  = "audit"
)

// KV is the storage contract. Values are JSON documents; Put rejects
// anything else so both backends stay byte-compatible. ListKeys
// returns keys in ascending lexical order, which gives chronological
// iteration for zero-padded sequence keys.
type KV interface {
	// Get returns the value stored under collection/key, or *ErrNotFound.
	Get(ctx context.Context, collection, key string) ([]byte, error)

	// Put stores value under collection/key, overwriting any previous value.
	Put(ctx context.Context, collection, key string, value []byte) error

	// Delete removes collection/key, returning *ErrNotFound if absent.
	Delete(ctx context.Context, collection, key string) error

	// ListKeys returns all keys in a collection in ascending order.
	ListKeys(ctx context.Context, collection string) ([]string, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

// IsNotFound reports whether err is (or wraps) an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
