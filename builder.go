package prefixsearch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/remiges-tech/prefixsearch/providers"
)

// termStripes is the number of per-term lock stripes.
const termStripes = 64

// Product is one {name, id} pair supplied to Rebuild.
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IndexBuilder is the only writer of a namespace's TermIndex and ProductMapping.
//
// Writes to the same term are serialized through a striped lock; writes to unrelated
// terms proceed in parallel. Rebuild excludes all other writes of this builder for
// the duration of the swap.
type IndexBuilder struct {
	provider providers.Provider
	options  Options

	rebuildMu sync.RWMutex
	stripes   [termStripes]sync.Mutex
}

// NewIndexBuilder creates an IndexBuilder writing to provider.
func NewIndexBuilder(provider providers.Provider, options Options) *IndexBuilder {
	return &IndexBuilder{
		provider: provider,
		options:  options.withDefaults(),
	}
}

// IndexProduct associates productID with name. Re-indexing an existing pair is a no-op.
// Returns ErrEmptyName if name normalizes to nothing and ErrEmptyID for an empty id.
func (b *IndexBuilder) IndexProduct(ctx context.Context, name, productID string) error {
	term, err := validate(name, productID)
	if err != nil {
		return err
	}

	b.rebuildMu.RLock()
	defer b.rebuildMu.RUnlock()

	mu := b.stripe(term)
	mu.Lock()
	defer mu.Unlock()

	if err := b.provider.Add(ctx, b.options.Namespace, term, productID); err != nil {
		return fmt.Errorf("failed to index %q: %w", term, err)
	}
	return nil
}

// RemoveProduct dissociates productID from name. When no product remains under
// the name, its term leaves the index. Removing an unknown pair is a no-op.
func (b *IndexBuilder) RemoveProduct(ctx context.Context, name, productID string) error {
	term, err := validate(name, productID)
	if err != nil {
		return err
	}

	b.rebuildMu.RLock()
	defer b.rebuildMu.RUnlock()

	mu := b.stripe(term)
	mu.Lock()
	defer mu.Unlock()

	if err := b.provider.Remove(ctx, b.options.Namespace, term, productID); err != nil {
		return fmt.Errorf("failed to remove %q: %w", term, err)
	}
	return nil
}

// Rebuild replaces the whole index with products. Queries observe either the old
// index or the new one, never a partial state. Products with an empty id or a name
// that normalizes to nothing are skipped.
func (b *IndexBuilder) Rebuild(ctx context.Context, products []Product) error {
	postings := make([]providers.Posting, 0, len(products))
	seen := make(map[providers.Posting]struct{}, len(products))
	skipped := 0
	for _, p := range products {
		term, err := validate(p.Name, p.ID)
		if err != nil {
			skipped++
			continue
		}
		posting := providers.Posting{Term: term, ID: p.ID}
		if _, dup := seen[posting]; dup {
			continue
		}
		seen[posting] = struct{}{}
		postings = append(postings, posting)
	}

	b.rebuildMu.Lock()
	defer b.rebuildMu.Unlock()

	if err := b.provider.Replace(ctx, b.options.Namespace, postings); err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}

	b.options.Logger.Info("index rebuilt",
		slog.String("namespace", b.options.Namespace),
		slog.Int("postings", len(postings)),
		slog.Int("skipped", skipped))
	return nil
}

// DeleteAll removes the whole namespace from the store.
func (b *IndexBuilder) DeleteAll(ctx context.Context) error {
	b.rebuildMu.Lock()
	defer b.rebuildMu.Unlock()

	return b.provider.DeleteAll(ctx, b.options.Namespace)
}

func (b *IndexBuilder) stripe(term string) *sync.Mutex {
	return &b.stripes[xxhash.Sum64String(term)%termStripes]
}

func validate(name, productID string) (string, error) {
	if productID == "" {
		return "", ErrEmptyID
	}
	term := Normalize(name)
	if term == "" {
		return "", ErrEmptyName
	}
	return term, nil
}
