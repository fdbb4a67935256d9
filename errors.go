package prefixsearch

import "errors"

// Sentinel errors for common validation failures.

var (
	// ErrProviderNotFound is returned when a provider is not registered.
	// Usually means you forgot to import the provider package with an underscore.
	ErrProviderNotFound = errors.New("prefixsearch provider not found")

	// ErrEmptyID is returned when an empty product ID is provided to IndexProduct or RemoveProduct.
	ErrEmptyID = errors.New("empty product ID")

	// ErrEmptyName is returned when a product name normalizes to the empty string.
	ErrEmptyName = errors.New("empty product name")

	// ErrStoreUnavailable wraps every backing store failure seen by Search,
	// including per-window timeouts.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("prefixsearch closed")
)
