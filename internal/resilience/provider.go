package resilience

import (
	"context"
	"errors"

	"github.com/remiges-tech/prefixsearch/providers"
)

// GuardProvider routes every store call of p through b. Ping bypasses the
// breaker so health checks always observe the real store.
func GuardProvider(p providers.Provider, b *Breaker) providers.Provider {
	return &guarded{next: p, breaker: b}
}

type guarded struct {
	next    providers.Provider
	breaker *Breaker
}

// countsAsFailure ignores cancellations made by the caller; they say nothing
// about the health of the store.
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func (g *guarded) do(fn func() error) error {
	return g.breaker.Execute(fn, countsAsFailure)
}

func (g *guarded) Snapshot(ctx context.Context, key string) (providers.Snapshot, error) {
	var snap providers.Snapshot
	err := g.do(func() (err error) {
		snap, err = g.next.Snapshot(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &guardedSnapshot{next: snap, g: g}, nil
}

func (g *guarded) Add(ctx context.Context, key, term, id string) error {
	return g.do(func() error { return g.next.Add(ctx, key, term, id) })
}

func (g *guarded) Remove(ctx context.Context, key, term, id string) error {
	return g.do(func() error { return g.next.Remove(ctx, key, term, id) })
}

func (g *guarded) Replace(ctx context.Context, key string, postings []providers.Posting) error {
	return g.do(func() error { return g.next.Replace(ctx, key, postings) })
}

func (g *guarded) DeleteAll(ctx context.Context, key string) error {
	return g.do(func() error { return g.next.DeleteAll(ctx, key) })
}

func (g *guarded) Ping(ctx context.Context) error {
	return g.next.Ping(ctx)
}

func (g *guarded) Close() error {
	return g.next.Close()
}

type guardedSnapshot struct {
	next providers.Snapshot
	g    *guarded
}

func (s *guardedSnapshot) Rank(ctx context.Context, key string) (rank int64, err error) {
	err = s.g.do(func() error {
		rank, err = s.next.Rank(ctx, key)
		return err
	})
	return rank, err
}

func (s *guardedSnapshot) Range(ctx context.Context, position, count int64) (window []string, err error) {
	err = s.g.do(func() error {
		window, err = s.next.Range(ctx, position, count)
		return err
	})
	return window, err
}

func (s *guardedSnapshot) Products(ctx context.Context, terms []string, perTerm int64) (ids [][]string, err error) {
	err = s.g.do(func() error {
		ids, err = s.next.Products(ctx, terms, perTerm)
		return err
	})
	return ids, err
}
