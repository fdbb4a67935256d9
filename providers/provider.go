// Package providers defines the storage contract behind the prefix search engine.
//
// A provider persists two structures per namespace: the TermIndex, an ordered set of
// terminated terms, and the ProductMapping, which maps each term to the ordered set of
// product ids carrying that name.
package providers

import (
	"context"
)

// Terminator is appended to every term stored in the TermIndex. It marks a complete,
// queryable entry and never appears inside a normalized term.
const Terminator = "*"

// Posting associates one normalized term with one product id.
type Posting struct {
	// Term is the normalized name without terminator.
	Term string

	// ID is the opaque product identifier.
	ID string
}

// Snapshot is a read view of one index generation.
// Rank and Range calls made on the same Snapshot observe the same generation
// even when a rebuild swaps in a new one concurrently.
type Snapshot interface {
	// Rank returns the lowest position whose stored value is >= key.
	Rank(ctx context.Context, key string) (int64, error)

	// Range returns up to count stored values starting at position, in index order.
	// A position beyond the end yields an empty slice.
	Range(ctx context.Context, position, count int64) ([]string, error)

	// Products returns the ids mapped to each term, in the same order as terms.
	// Each slice holds at most perTerm ids, or all of them when perTerm <= 0.
	// A term without a mapping yields an empty slice.
	Products(ctx context.Context, terms []string, perTerm int64) ([][]string, error)
}

// Provider defines the interface that all storage providers must implement.
// All methods must be safe for concurrent use. The 'key' parameter acts as
// a namespace to allow multiple datasets to coexist.
type Provider interface {
	// Snapshot opens a read view of the current generation.
	Snapshot(ctx context.Context, key string) (Snapshot, error)

	// Add ensures id is in the mapping of term and the terminated term is in the index.
	// Both changes are applied atomically. Adding an existing pair is a no-op.
	Add(ctx context.Context, key, term, id string) error

	// Remove deletes id from the mapping of term. When the mapping becomes empty
	// the term is removed from the index in the same atomic step.
	// Removing an absent pair is a no-op.
	Remove(ctx context.Context, key, term, id string) error

	// Replace builds a new generation from postings and swaps it in atomically.
	// On failure the previous generation remains live.
	Replace(ctx context.Context, key string, postings []Posting) error

	// DeleteAll removes every generation for a given key namespace.
	// This operation cannot be undone.
	DeleteAll(ctx context.Context, key string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close closes the provider connection and releases resources.
	// It is safe to call multiple times. After Close, other methods will fail.
	Close() error
}
