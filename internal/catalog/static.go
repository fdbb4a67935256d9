package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/remiges-tech/prefixsearch"
)

// Static is an in-memory catalog, loaded from a JSON file or built directly.
type Static struct {
	details []Detail
	byID    map[string]int
}

// NewStatic builds a catalog from details. Later duplicates of an id win.
func NewStatic(details []Detail) *Static {
	s := &Static{byID: make(map[string]int, len(details))}
	for _, d := range details {
		if i, ok := s.byID[d.ID]; ok {
			s.details[i] = d
			continue
		}
		s.byID[d.ID] = len(s.details)
		s.details = append(s.details, d)
	}
	slices.SortFunc(s.details, func(a, b Detail) int { return strings.Compare(a.ID, b.ID) })
	for i, d := range s.details {
		s.byID[d.ID] = i
	}
	return s
}

// LoadFile reads a JSON array of Detail objects.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	var details []Detail
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, fmt.Errorf("parsing catalog file %s: %w", path, err)
	}
	return NewStatic(details), nil
}

func (s *Static) Each(ctx context.Context, fn func(prefixsearch.Product) error) error {
	for _, d := range s.details {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(prefixsearch.Product{ID: d.ID, Name: d.Name}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Static) Product(_ context.Context, id string) (Detail, error) {
	i, ok := s.byID[id]
	if !ok {
		return Detail{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.details[i], nil
}

// Ping always succeeds.
func (s *Static) Ping(context.Context) error {
	return nil
}
