// Package elasticsearch implements the Provider interface using Elasticsearch.
//
// Every namespace lives in its own concrete index behind an alias. Each term is one
// document whose keyword field "term" holds the terminated term and whose "ids" field
// holds the product ids, which readers sort byte-wise. Rank is a count of smaller
// terms; Range is a search sorted on "term". A rebuild loads a new concrete index,
// moves the alias to it in one _aliases call and deletes the old index after
// RetireAfter.
package elasticsearch

import "time"

// Config holds Elasticsearch connection parameters and provider-specific options.
type Config struct {
	// URLs is the list of Elasticsearch node URLs.
	URLs []string

	// Index is the alias prefix. The alias of namespace ns is "<Index>-<ns>".
	// Default: "prefixsearch".
	Index string

	// Username for basic authentication.
	Username string

	// Password for basic authentication.
	Password string

	// CloudID for connecting to Elastic Cloud.
	CloudID string

	// APIKey for API key authentication (alternative to username/password).
	APIKey string

	// RefreshPolicy controls when single-term writes are visible to search.
	// Options: "true" (immediate), "false" (default), "wait_for" (wait for next refresh).
	RefreshPolicy string

	// NumberOfShards configures the number of primary shards of each generation index.
	// Default: 1
	NumberOfShards int

	// NumberOfReplicas configures the number of replica shards.
	// Default: 0
	NumberOfReplicas int

	// BulkSize is the number of documents per _bulk request during Replace.
	// Default: 1000
	BulkSize int

	// RetireAfter is how long an index replaced by Replace is kept for snapshots
	// opened before the swap. It must outlast the longest search.
	// Default: 30s
	RetireAfter time.Duration
}

// setDefaults applies default values to config fields.
func (c *Config) setDefaults() {
	if c.Index == "" {
		c.Index = "prefixsearch"
	}
	if c.RefreshPolicy == "" {
		c.RefreshPolicy = "false"
	}
	if c.NumberOfShards == 0 {
		c.NumberOfShards = 1
	}
	if c.BulkSize <= 0 {
		c.BulkSize = 1000
	}
	if c.RetireAfter <= 0 {
		c.RetireAfter = 30 * time.Second
	}
}
