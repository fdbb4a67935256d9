// Package prefixsearch provides product-name autocomplete for a storefront,
// with pluggable storage backends.
//
// Product names are normalized and stored, with a terminator, in an ordered TermIndex.
// A secondary ProductMapping links every name to the ids of the products carrying it.
// A query locates the start of the prefix range in the TermIndex and scans forward
// until the first name outside the range, so its cost follows the number of matches
// and not the size of the index.
//
// Storage is delegated to a provider. Providers self-register during package
// initialization.
//
// Basic usage:
//
//	import (
//		"github.com/remiges-tech/prefixsearch"
//		"github.com/remiges-tech/prefixsearch/providers/redis"
//	)
//
//	config := prefixsearch.NewConfig(redis.Config{Addr: "localhost:6379"})
//	config.Options.MinPrefixLength = 2
//	ps, err := prefixsearch.New("redis", config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ps.Close()
//
//	ps.IndexProduct(ctx, "Apple", "p1")
//	ps.IndexProduct(ctx, "Applesauce", "p2")
//
//	page, err := ps.Search(ctx, "app", 8, 0)
package prefixsearch

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/remiges-tech/prefixsearch/providers"
)

// AutoComplete is the complete engine: a QueryEngine and an IndexBuilder sharing
// one provider and namespace. All methods are safe for concurrent use.
type AutoComplete interface {
	// Search returns one page of names starting with prefix.
	// See QueryEngine.Search for the paging and failure contract.
	Search(ctx context.Context, prefix string, limit, offset int) (Page, error)

	// Products returns every product id indexed under name.
	Products(ctx context.Context, name string) ([]string, error)

	// IndexProduct associates productID with name. Idempotent.
	IndexProduct(ctx context.Context, name, productID string) error

	// RemoveProduct dissociates productID from name. Idempotent.
	RemoveProduct(ctx context.Context, name, productID string) error

	// Rebuild atomically replaces the whole index with products.
	Rebuild(ctx context.Context, products []Product) error

	// DeleteAll removes all entries in the configured namespace.
	// This operation is irreversible.
	DeleteAll(ctx context.Context) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close closes the provider and releases resources.
	// It is safe to call multiple times. After Close, other methods return ErrClosed.
	Close() error
}

// autocompleteImpl is the default implementation of AutoComplete.
type autocompleteImpl struct {
	provider providers.Provider
	engine   *QueryEngine
	builder  *IndexBuilder
	closed   atomic.Bool
}

func (a *autocompleteImpl) Search(ctx context.Context, prefix string, limit, offset int) (Page, error) {
	if a.closed.Load() {
		return emptyPage(), ErrClosed
	}
	return a.engine.Search(ctx, prefix, limit, offset)
}

func (a *autocompleteImpl) Products(ctx context.Context, name string) ([]string, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	return a.engine.Products(ctx, name)
}

func (a *autocompleteImpl) IndexProduct(ctx context.Context, name, productID string) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.builder.IndexProduct(ctx, name, productID)
}

func (a *autocompleteImpl) RemoveProduct(ctx context.Context, name, productID string) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.builder.RemoveProduct(ctx, name, productID)
}

func (a *autocompleteImpl) Rebuild(ctx context.Context, products []Product) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.builder.Rebuild(ctx, products)
}

func (a *autocompleteImpl) DeleteAll(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.builder.DeleteAll(ctx)
}

func (a *autocompleteImpl) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.provider.Ping(ctx)
}

func (a *autocompleteImpl) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.provider.Close()
}

// New creates a new AutoComplete instance with the specified provider.
// The providerType must be registered (case-insensitive). Config contains
// both provider-specific settings and common options.
// Returns ErrProviderNotFound if the provider is not registered.
//
// Example:
//
//	import _ "github.com/remiges-tech/prefixsearch/providers/redis"
//
//	config := prefixsearch.NewConfig(redis.Config{Addr: "localhost:6379"})
//	ps, err := prefixsearch.New("redis", config)
//
//nolint:gocritic // hugeParam: New() is only called once at startup
func New(providerType string, config Config) (AutoComplete, error) {
	provider, err := NewProvider(providerType, config.ProviderConfig)
	if err != nil {
		return nil, err
	}
	return NewWithProvider(provider, config.Options), nil
}

// NewWithProvider wraps an already constructed provider, for callers that decorate
// providers before use.
func NewWithProvider(provider providers.Provider, options Options) AutoComplete {
	options = options.withDefaults()
	return &autocompleteImpl{
		provider: provider,
		engine:   NewQueryEngine(provider, options),
		builder:  NewIndexBuilder(provider, options),
	}
}

// NewProvider builds a provider through its registered factory.
func NewProvider(providerType string, providerConfig interface{}) (providers.Provider, error) {
	factory, exists := providerFactories[strings.ToLower(providerType)]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerType)
	}
	return factory(providerConfig)
}

// ProviderFactory creates a Provider instance from a configuration.
// The factory must type-assert the config parameter to its expected type.
type ProviderFactory func(config interface{}) (providers.Provider, error)

// providerFactories holds the registered provider factories.
var providerFactories = make(map[string]ProviderFactory)

// RegisterProvider registers a new storage provider factory.
// Typically called from a provider's init() function. The name is
// case-insensitive. Registering with an existing name overwrites it.
//
// Not safe to call after init(); the registry has no mutex.
//
// Example:
//
//	func init() {
//	    prefixsearch.RegisterProvider("myprovider", NewProvider)
//	}
func RegisterProvider(name string, factory ProviderFactory) {
	providerFactories[strings.ToLower(name)] = factory
}

// Providers lists the registered provider names in sorted order.
func Providers() []string {
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
