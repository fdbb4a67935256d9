// Package events applies product lifecycle events to the search index.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/remiges-tech/prefixsearch"
	"github.com/remiges-tech/prefixsearch/internal/metrics"
)

// Event types.
const (
	TypePublished   = "product.published"
	TypeUnpublished = "product.unpublished"
	TypeRenamed     = "product.renamed"
)

// ErrMalformed marks events that can never be applied. They are committed
// without effect.
var ErrMalformed = errors.New("malformed event")

// Event is one product lifecycle message.
type Event struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	PreviousName string `json:"previousName,omitempty"`
}

// Decode parses a message value.
func Decode(value []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(value, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return e, nil
}

// Indexer is the write side of the engine.
type Indexer interface {
	IndexProduct(ctx context.Context, name, productID string) error
	RemoveProduct(ctx context.Context, name, productID string) error
}

// Invalidator drops cached product detail, such as catalog.Cached.
type Invalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// Applier turns events into index writes.
type Applier struct {
	index   Indexer
	cache   Invalidator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewApplier creates an Applier. m may be nil.
func NewApplier(index Indexer, m *metrics.Metrics, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{index: index, metrics: m, logger: logger.With("component", "events")}
}

// WithCache makes the Applier drop the cached detail of every product an
// applied event touches.
func (a *Applier) WithCache(cache Invalidator) *Applier {
	a.cache = cache
	return a
}

// Apply executes one event. Validation failures are reported as ErrMalformed;
// any other error comes from the store and is worth retrying.
func (a *Applier) Apply(ctx context.Context, e Event) error {
	err := a.apply(ctx, e)
	if err == nil && a.cache != nil {
		if cerr := a.cache.Invalidate(ctx, e.ID); cerr != nil {
			a.logger.Warn("failed to invalidate product cache", "id", e.ID, "error", cerr)
		}
	}
	if a.metrics != nil {
		a.metrics.EventsTotal.WithLabelValues(eventLabel(e.Type), metrics.Status(err)).Inc()
	}
	return err
}

func (a *Applier) apply(ctx context.Context, e Event) error {
	switch e.Type {
	case TypePublished:
		return classify(a.index.IndexProduct(ctx, e.Name, e.ID))
	case TypeUnpublished:
		return classify(a.index.RemoveProduct(ctx, e.Name, e.ID))
	case TypeRenamed:
		if e.PreviousName != "" && prefixsearch.Normalize(e.PreviousName) != prefixsearch.Normalize(e.Name) {
			if err := a.index.RemoveProduct(ctx, e.PreviousName, e.ID); err != nil && !isInvalid(err) {
				return err
			}
		}
		return classify(a.index.IndexProduct(ctx, e.Name, e.ID))
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, e.Type)
	}
}

// HandleMessage decodes and applies a raw message value.
func (a *Applier) HandleMessage(ctx context.Context, key, value []byte) error {
	e, err := Decode(value)
	if err != nil {
		a.logger.Error("failed to decode product event", "key", string(key), "error", err)
		return err
	}
	if err := a.Apply(ctx, e); err != nil {
		return err
	}
	a.logger.Debug("product event applied", "type", e.Type, "id", e.ID)
	return nil
}

func isInvalid(err error) bool {
	return errors.Is(err, prefixsearch.ErrEmptyID) || errors.Is(err, prefixsearch.ErrEmptyName)
}

func classify(err error) error {
	if err != nil && isInvalid(err) {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return err
}

// eventLabel bounds metric cardinality.
func eventLabel(t string) string {
	switch t {
	case TypePublished, TypeUnpublished, TypeRenamed:
		return t
	default:
		return "unknown"
	}
}
