package memory

import (
	"fmt"

	"github.com/remiges-tech/prefixsearch"
	"github.com/remiges-tech/prefixsearch/providers"
)

// init registers the memory provider. Import this package with a blank identifier
// to keep the index in process:
//
//	import _ "github.com/remiges-tech/prefixsearch/providers/memory"
//
//nolint:gochecknoinits // init() is the idiomatic pattern for provider registration
func init() {
	prefixsearch.RegisterProvider("memory", NewProvider)
}

// NewProvider creates a memory provider. It implements ProviderFactory and accepts
// a memory.Config or nil.
func NewProvider(config interface{}) (providers.Provider, error) {
	switch cfg := config.(type) {
	case nil:
		return New(Config{}), nil
	case Config:
		return New(cfg), nil
	default:
		return nil, fmt.Errorf("invalid configuration type for memory provider: expected memory.Config, got %T", config)
	}
}
