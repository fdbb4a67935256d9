package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiges-tech/prefixsearch"
	"github.com/remiges-tech/prefixsearch/internal/metrics"
	"github.com/remiges-tech/prefixsearch/providers/memory"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newEngine(t *testing.T) prefixsearch.AutoComplete {
	t.Helper()
	ac := prefixsearch.NewWithProvider(memory.New(memory.Config{}), prefixsearch.Options{Logger: quiet})
	t.Cleanup(func() { _ = ac.Close() })
	return ac
}

func names(t *testing.T, ac prefixsearch.AutoComplete, prefix string) []string {
	t.Helper()
	page, err := ac.Search(context.Background(), prefix, 0, 0)
	require.NoError(t, err)
	out := make([]string, 0, len(page.Items))
	for _, item := range page.Items {
		out = append(out, item.Name)
	}
	return out
}

func TestApplyLifecycle(t *testing.T) {
	ctx := context.Background()
	ac := newEngine(t)
	m := metrics.New()
	a := NewApplier(ac, m, quiet)

	require.NoError(t, a.HandleMessage(ctx, nil, []byte(`{"type":"product.published","id":"p1","name":"Desk Lamp"}`)))
	assert.Equal(t, []string{"DESK LAMP"}, names(t, ac, "desk"))

	require.NoError(t, a.Apply(ctx, Event{Type: TypeRenamed, ID: "p1", Name: "Table Lamp", PreviousName: "Desk Lamp"}))
	assert.Empty(t, names(t, ac, "desk"))
	assert.Equal(t, []string{"TABLE LAMP"}, names(t, ac, "table"))

	require.NoError(t, a.Apply(ctx, Event{Type: TypeUnpublished, ID: "p1", Name: "Table Lamp"}))
	assert.Empty(t, names(t, ac, "table"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues(TypeRenamed, "ok")))
}

func TestApplyRenameToSameNormalizedName(t *testing.T) {
	ctx := context.Background()
	ac := newEngine(t)
	a := NewApplier(ac, nil, quiet)

	require.NoError(t, a.Apply(ctx, Event{Type: TypePublished, ID: "p1", Name: "desk lamp"}))
	require.NoError(t, a.Apply(ctx, Event{Type: TypeRenamed, ID: "p1", Name: "Desk  Lamp", PreviousName: "desk lamp"}))

	assert.Equal(t, []string{"DESK LAMP"}, names(t, ac, "desk"))
}

type recordingCache struct {
	ids []string
	err error
}

func (c *recordingCache) Invalidate(_ context.Context, id string) error {
	c.ids = append(c.ids, id)
	return c.err
}

func TestApplyInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	cache := &recordingCache{}
	a := NewApplier(newEngine(t), nil, quiet).WithCache(cache)

	require.NoError(t, a.Apply(ctx, Event{Type: TypePublished, ID: "p1", Name: "Lamp"}))
	require.ErrorIs(t, a.Apply(ctx, Event{Type: TypePublished, ID: "p2", Name: "  "}), ErrMalformed)

	cache.err = errors.New("redis down")
	require.NoError(t, a.Apply(ctx, Event{Type: TypeUnpublished, ID: "p1", Name: "Lamp"}))

	assert.Equal(t, []string{"p1", "p1"}, cache.ids)
}

func TestApplyMalformed(t *testing.T) {
	ctx := context.Background()
	a := NewApplier(newEngine(t), nil, quiet)

	tests := []struct {
		name  string
		value string
	}{
		{"not json", `{"type":`},
		{"unknown type", `{"type":"product.deleted","id":"p1","name":"Lamp"}`},
		{"missing id", `{"type":"product.published","name":"Lamp"}`},
		{"blank name", `{"type":"product.published","id":"p1","name":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.HandleMessage(ctx, []byte("k"), []byte(tt.value))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestProcessRetriesStoreErrors(t *testing.T) {
	calls := 0
	c := &Consumer{
		logger: quiet,
		handler: func(context.Context, []byte, []byte) error {
			calls++
			if calls < 3 {
				return errors.New("store unavailable")
			}
			return nil
		},
	}

	assert.True(t, c.process(context.Background(), kafka.Message{}))
	assert.Equal(t, 3, calls)
}

func TestProcessSkipsMalformed(t *testing.T) {
	calls := 0
	c := &Consumer{
		logger: quiet,
		handler: func(context.Context, []byte, []byte) error {
			calls++
			return ErrMalformed
		},
	}

	assert.True(t, c.process(context.Background(), kafka.Message{}))
	assert.Equal(t, 1, calls)
}

func TestProcessStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := &Consumer{
		logger:  quiet,
		handler: func(context.Context, []byte, []byte) error { return errors.New("down") },
	}

	assert.False(t, c.process(ctx, kafka.Message{}))
}

func TestRetryPolicy(t *testing.T) {
	b := retryPolicy()
	assert.Equal(t, 100*time.Millisecond, b.InitialInterval)
	assert.Equal(t, 10*time.Second, b.MaxInterval)
	assert.Zero(t, b.MaxElapsedTime)

	for i := 0; i < 20; i++ {
		next := b.NextBackOff()
		require.NotEqual(t, backoff.Stop, next)
		assert.LessOrEqual(t, next, 15*time.Second)
	}
}
