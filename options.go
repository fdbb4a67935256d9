package prefixsearch

import (
	"log/slog"
	"time"
)

// defaultLimit is the default number of results to return.
const defaultLimit = 8

// defaultMaxLimit is the maximum allowed results.
const defaultMaxLimit = 100

// defaultWindowTimeout bounds each store round trip made by Search.
const defaultWindowTimeout = 250 * time.Millisecond

// Config holds configuration for the prefixsearch instance.
type Config struct {
	// ProviderConfig contains provider-specific configuration.
	// Each provider defines its own config struct type.
	ProviderConfig interface{}

	// Options contains common search behavior settings.
	Options Options
}

// Options contains common search behavior settings.
// Use DefaultOptions() for default values.
type Options struct {
	// DefaultLimit is the page size used when the caller passes limit <= 0.
	DefaultLimit int

	// MaxLimit caps the page size. Larger limits are clamped, not rejected.
	MaxLimit int

	// MinPrefixLength is the minimum normalized prefix length, in runes.
	// Shorter prefixes return an empty page without touching the store.
	// Default: 1.
	MinPrefixLength int

	// Namespace separates datasets in the storage backend
	// (e.g., "storefront", "staging_storefront").
	// Default: "storefront".
	Namespace string

	// WindowTimeout bounds each store round trip made by Search.
	// A timeout is reported as ErrStoreUnavailable.
	// Default: 250ms.
	WindowTimeout time.Duration

	// Logger receives diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns default options.
func DefaultOptions() Options {
	return Options{
		DefaultLimit:    defaultLimit,
		MaxLimit:        defaultMaxLimit,
		MinPrefixLength: 1,
		Namespace:       "storefront",
		WindowTimeout:   defaultWindowTimeout,
		Logger:          slog.Default(),
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = d.DefaultLimit
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = d.MaxLimit
	}
	if o.DefaultLimit > o.MaxLimit {
		o.DefaultLimit = o.MaxLimit
	}
	if o.MinPrefixLength <= 0 {
		o.MinPrefixLength = d.MinPrefixLength
	}
	if o.Namespace == "" {
		o.Namespace = d.Namespace
	}
	if o.WindowTimeout <= 0 {
		o.WindowTimeout = d.WindowTimeout
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}

// NewConfig creates a new configuration with default options.
func NewConfig(providerConfig interface{}) Config {
	return Config{
		ProviderConfig: providerConfig,
		Options:        DefaultOptions(),
	}
}

// NewConfigWithOptions creates a new configuration with custom options.
func NewConfigWithOptions(providerConfig interface{}, options Options) Config {
	return Config{
		ProviderConfig: providerConfig,
		Options:        options,
	}
}
