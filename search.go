package prefixsearch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/remiges-tech/prefixsearch/providers"
)

// Item is one search result: a product name and its representative product id.
type Item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Page is one page of search results.
type Page struct {
	// Items are ordered by name, unique by name, and never exceed the requested limit.
	Items []Item `json:"items"`

	// HasMore reports that the window was full, so a further page may exist.
	HasMore bool `json:"hasMore"`

	// NextOffset is the offset of the next page. Set only when HasMore is true.
	NextOffset int `json:"nextOffset,omitempty"`
}

func emptyPage() Page {
	return Page{Items: []Item{}}
}

func (p Page) clone() Page {
	items := make([]Item, len(p.Items))
	copy(items, p.Items)
	p.Items = items
	return p
}

// QueryEngine answers prefix searches against a provider's TermIndex and ProductMapping.
// It only reads from the provider. All methods are safe for concurrent use.
type QueryEngine struct {
	provider providers.Provider
	options  Options
	group    singleflight.Group
}

// NewQueryEngine creates a QueryEngine reading from provider.
// Zero option fields take their DefaultOptions values.
func NewQueryEngine(provider providers.Provider, options Options) *QueryEngine {
	return &QueryEngine{
		provider: provider,
		options:  options.withDefaults(),
	}
}

// Search returns the page of product names starting with prefix.
//
// A prefix that normalizes to fewer than MinPrefixLength runes yields an empty page
// without touching the store. limit <= 0 selects DefaultLimit and larger values are
// clamped to MaxLimit; a negative offset is treated as 0.
//
// Search never fails on input. When the store is unreachable or a round trip exceeds
// WindowTimeout, it returns an empty page together with an error wrapping
// ErrStoreUnavailable; the page is valid to serialize in either case.
func (q *QueryEngine) Search(ctx context.Context, prefix string, limit, offset int) (Page, error) {
	normalized := Normalize(prefix)
	if utf8.RuneCountInString(normalized) < q.options.MinPrefixLength {
		return emptyPage(), nil
	}

	limit = q.clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	key := q.options.Namespace + "\x00" + normalized + "\x00" + strconv.Itoa(limit) + "\x00" + strconv.Itoa(offset)
	ch := q.group.DoChan(key, func() (interface{}, error) {
		// Shared by every waiter, so it must outlive any single caller.
		return q.search(context.WithoutCancel(ctx), normalized, limit, offset)
	})

	select {
	case <-ctx.Done():
		return emptyPage(), fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return emptyPage(), res.Err
		}
		page, _ := res.Val.(Page)
		return page.clone(), nil
	}
}

func (q *QueryEngine) search(ctx context.Context, prefix string, limit, offset int) (Page, error) {
	log := q.options.Logger.With(slog.String("prefix", prefix), slog.Int("offset", offset))

	var snap providers.Snapshot
	err := q.roundTrip(ctx, func(ctx context.Context) (err error) {
		snap, err = q.provider.Snapshot(ctx, q.options.Namespace)
		return err
	})
	if err != nil {
		log.Warn("search snapshot failed", slog.Any("error", err))
		return Page{}, err
	}

	var window []string
	err = q.roundTrip(ctx, func(ctx context.Context) error {
		rank, err := snap.Rank(ctx, prefix)
		if err != nil {
			return err
		}
		window, err = snap.Range(ctx, rank+int64(offset), int64(limit))
		return err
	})
	if err != nil {
		log.Warn("search window fetch failed", slog.Any("error", err))
		return Page{}, err
	}

	terms, consumed := scanWindow(window, prefix)

	page := emptyPage()
	if consumed == limit {
		page.HasMore = true
		page.NextOffset = offset + limit
	}
	if len(terms) == 0 {
		return page, nil
	}

	var mapped [][]string
	err = q.roundTrip(ctx, func(ctx context.Context) (err error) {
		mapped, err = snap.Products(ctx, terms, 1)
		return err
	})
	if err != nil {
		log.Warn("search mapping lookup failed", slog.Any("error", err))
		return Page{}, err
	}

	// Only names are deduplicated. An id indexed under two names is listed under
	// both; ids stay unique across pages as long as each product has one name.
	seen := make(map[string]struct{}, len(terms))
	for i, term := range terms {
		if i >= len(mapped) || len(mapped[i]) == 0 {
			log.Debug("skipping term without products", slog.String("term", term))
			continue
		}

		name := strings.ToUpper(term)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		page.Items = append(page.Items, Item{ID: mapped[i][0], Name: term})
	}

	return page, nil
}

// scanWindow returns the complete terms at the head of window that start with prefix
// and the number of raw entries consumed. Scanning stops at the first entry outside
// the prefix range; lexicographic order guarantees no later entry can match.
func scanWindow(window []string, prefix string) ([]string, int) {
	terms := make([]string, 0, len(window))
	consumed := 0
	for _, entry := range window {
		term, complete := unterminate(entry)
		if !strings.HasPrefix(term, prefix) {
			break
		}
		consumed++
		if complete {
			terms = append(terms, term)
		}
	}
	return terms, consumed
}

// Products returns every product id indexed under name, lexicographically ordered.
// It is the follow-up lookup for names that carry more than one product.
func (q *QueryEngine) Products(ctx context.Context, name string) ([]string, error) {
	term := Normalize(name)
	if term == "" {
		return nil, ErrEmptyName
	}

	var ids [][]string
	err := q.roundTrip(ctx, func(ctx context.Context) error {
		snap, err := q.provider.Snapshot(ctx, q.options.Namespace)
		if err != nil {
			return err
		}
		ids, err = snap.Products(ctx, []string{term}, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []string{}, nil
	}
	return ids[0], nil
}

// roundTrip runs fn under WindowTimeout and classifies any failure as ErrStoreUnavailable.
func (q *QueryEngine) roundTrip(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, q.options.WindowTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (q *QueryEngine) clampLimit(limit int) int {
	if limit <= 0 {
		return q.options.DefaultLimit
	}
	if limit > q.options.MaxLimit {
		return q.options.MaxLimit
	}
	return limit
}
