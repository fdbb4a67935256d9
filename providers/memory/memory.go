// Package memory implements the Provider interface in process memory.
// It keeps each namespace as a sorted slice of terminated terms next to a map of
// sorted product id lists. Suitable for tests, single-node deployments and warm
// standbys rebuilt from the catalog at startup.
package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/remiges-tech/prefixsearch/providers"
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("memory provider closed")

// Config holds memory provider options. It has no fields yet; the type exists so the
// provider is configured the same way as the others.
type Config struct{}

// Provider implements providers.Provider in memory.
// All methods are safe for concurrent use.
type Provider struct {
	// mu guards spaces. Writers hold it shared so Replace can wait them out.
	mu     sync.RWMutex
	spaces map[string]*generation
	closed atomic.Bool
}

// generation is one complete TermIndex + ProductMapping.
type generation struct {
	mu    sync.RWMutex
	terms []string
	ids   map[string][]string
}

func newGeneration() *generation {
	return &generation{ids: make(map[string][]string)}
}

// New creates an empty memory provider.
func New(Config) *Provider {
	return &Provider{spaces: make(map[string]*generation)}
}

func (p *Provider) current(key string) *generation {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if g, ok := p.spaces[key]; ok {
		return g
	}
	return newGeneration()
}

// Snapshot returns a view of the current generation of key.
func (p *Provider) Snapshot(_ context.Context, key string) (providers.Snapshot, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	return &snapshot{gen: p.current(key)}, nil
}

// Add inserts id under term, creating the term when it is new.
func (p *Provider) Add(_ context.Context, key, term, id string) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.mu.RLock()
	g, ok := p.spaces[key]
	for !ok {
		p.mu.RUnlock()
		p.mu.Lock()
		if _, exists := p.spaces[key]; !exists {
			p.spaces[key] = newGeneration()
		}
		p.mu.Unlock()
		p.mu.RLock()
		g, ok = p.spaces[key]
	}
	defer p.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	ids := g.ids[term]
	pos, found := slices.BinarySearch(ids, id)
	if found {
		return nil
	}
	g.ids[term] = slices.Insert(ids, pos, id)

	if len(ids) == 0 {
		entry := term + providers.Terminator
		at, exists := slices.BinarySearch(g.terms, entry)
		if !exists {
			g.terms = slices.Insert(g.terms, at, entry)
		}
	}
	return nil
}

// Remove deletes id from term and drops the term once no id remains.
func (p *Provider) Remove(_ context.Context, key, term, id string) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	g, ok := p.spaces[key]
	if !ok {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ids := g.ids[term]
	pos, found := slices.BinarySearch(ids, id)
	if !found {
		return nil
	}
	ids = slices.Delete(ids, pos, pos+1)
	if len(ids) > 0 {
		g.ids[term] = ids
		return nil
	}

	delete(g.ids, term)
	entry := term + providers.Terminator
	if at, exists := slices.BinarySearch(g.terms, entry); exists {
		g.terms = slices.Delete(g.terms, at, at+1)
	}
	return nil
}

// Replace builds a new generation from postings and swaps it in.
func (p *Provider) Replace(_ context.Context, key string, postings []providers.Posting) error {
	if p.closed.Load() {
		return ErrClosed
	}

	g := newGeneration()
	for _, posting := range postings {
		g.ids[posting.Term] = append(g.ids[posting.Term], posting.ID)
	}
	g.terms = make([]string, 0, len(g.ids))
	for term, ids := range g.ids {
		slices.Sort(ids)
		g.ids[term] = slices.Compact(ids)
		g.terms = append(g.terms, term+providers.Terminator)
	}
	slices.Sort(g.terms)

	p.mu.Lock()
	p.spaces[key] = g
	p.mu.Unlock()
	return nil
}

// DeleteAll drops the namespace.
func (p *Provider) DeleteAll(_ context.Context, key string) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.mu.Lock()
	delete(p.spaces, key)
	p.mu.Unlock()
	return nil
}

// Ping fails only after Close.
func (p *Provider) Ping(context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close releases the stored data. It is safe to call multiple times.
func (p *Provider) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	p.spaces = make(map[string]*generation)
	p.mu.Unlock()
	return nil
}

type snapshot struct {
	gen *generation
}

func (s *snapshot) Rank(_ context.Context, key string) (int64, error) {
	s.gen.mu.RLock()
	defer s.gen.mu.RUnlock()

	return int64(sort.SearchStrings(s.gen.terms, key)), nil
}

func (s *snapshot) Range(_ context.Context, position, count int64) ([]string, error) {
	s.gen.mu.RLock()
	defer s.gen.mu.RUnlock()

	n := int64(len(s.gen.terms))
	if position < 0 {
		position = 0
	}
	if position >= n || count <= 0 {
		return []string{}, nil
	}
	end := min(position+count, n)
	return slices.Clone(s.gen.terms[position:end]), nil
}

func (s *snapshot) Products(_ context.Context, terms []string, perTerm int64) ([][]string, error) {
	s.gen.mu.RLock()
	defer s.gen.mu.RUnlock()

	out := make([][]string, len(terms))
	for i, term := range terms {
		ids := s.gen.ids[term]
		if perTerm > 0 && int64(len(ids)) > perTerm {
			ids = ids[:perTerm]
		}
		out[i] = slices.Clone(ids)
		if out[i] == nil {
			out[i] = []string{}
		}
	}
	return out, nil
}
