// Package catalog reads products from the system of record. It feeds full
// rebuilds of the search index and serves product detail for search results.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/remiges-tech/prefixsearch"
)

// ErrNotFound is returned by Product for an unknown id.
var ErrNotFound = errors.New("product not found")

// Detail is the storefront view of one product.
type Detail struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       string    `json:"price"`
	Stock       int64     `json:"stock"`
	ProductURL  string    `json:"productUrl"`
	Category    string    `json:"category"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Source is a product catalog.
type Source interface {
	// Each calls fn for every product, in id order. It stops at the first error
	// returned by fn.
	Each(ctx context.Context, fn func(prefixsearch.Product) error) error

	// Product returns the detail of one product, or ErrNotFound.
	Product(ctx context.Context, id string) (Detail, error)
}

// Load collects every product of src, ready for a rebuild.
func Load(ctx context.Context, src Source) ([]prefixsearch.Product, error) {
	var products []prefixsearch.Product
	err := src.Each(ctx, func(p prefixsearch.Product) error {
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}
