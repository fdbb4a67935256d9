// Package redis implements the Provider interface using Redis as the storage backend.
//
// The TermIndex of a namespace is a sorted set whose members all share score 0, so
// Redis orders them byte-wise; the ProductMapping is one sorted set of product ids per
// term. Every namespace is versioned by a generation number, which lets a rebuild load
// a complete new generation and switch to it with a single GETSET.
//
// Keys for namespace ns:
//
//	ps:<ns>:gen                 current generation number (absent means 0)
//	ps:<ns>:seq                 generation counter
//	ps:<ns>:<gen>:terms         sorted set of terminated terms
//	ps:<ns>:<gen>:ids:<TERM>    sorted set of product ids
//
// Keys are derived inside Lua scripts, so Redis Cluster is not supported.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/remiges-tech/prefixsearch/providers"
)

const (
	// keyPrefix prefixes every key written by the provider.
	keyPrefix = "ps:"

	// lexicographicMinChar is the ZLEXCOUNT lower bound for "from the first member".
	lexicographicMinChar = "-"

	// exclusivePrefix marks an exclusive ZLEXCOUNT bound.
	exclusivePrefix = "("

	// defaultBatchSize is the number of postings written per pipeline during Replace.
	defaultBatchSize = 1000

	// scanCount is the COUNT hint used when scanning generation keys.
	scanCount = 500

	// defaultRetireAfter is how long a replaced generation stays readable.
	defaultRetireAfter = 30 * time.Second
)

// Provider implements the Provider interface using Redis.
// All methods are safe for concurrent use.
type Provider struct {
	client      *redis.Client
	batchSize   int
	retireAfter time.Duration
	logger      *slog.Logger
	closed      atomic.Bool
}

// Config holds Redis connection parameters.
type Config struct {
	// Addr is the Redis server address in the format "host:port".
	Addr string

	// Password is the Redis password (empty string for no password).
	Password string

	// DB is the Redis database number (0-15, default is 0).
	DB int

	// PoolSize is the maximum number of socket connections. Zero keeps the client default.
	PoolSize int

	// BatchSize is the number of postings per pipeline during Replace.
	// Default: 1000.
	BatchSize int

	// RetireAfter is how long a generation replaced by Replace stays readable for
	// snapshots opened before the swap. It must outlast the longest search.
	// Default: 30s.
	RetireAfter time.Duration

	// Logger receives cleanup warnings. Default: slog.Default().
	Logger *slog.Logger
}

// New creates a new Redis provider with the given configuration.
// It establishes a connection to Redis and verifies connectivity with a PING command.
func New(config Config) (*Provider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password, // pragma: allowlist secret
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewFromClient(client, config), nil
}

// NewFromClient wraps an existing client. The client is closed by Close.
func NewFromClient(client *redis.Client, config Config) *Provider {
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	retireAfter := config.RetireAfter
	if retireAfter <= 0 {
		retireAfter = defaultRetireAfter
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client:      client,
		batchSize:   batchSize,
		retireAfter: retireAfter,
		logger:      logger,
	}
}

// namespaceBase returns the key prefix shared by every key of a namespace.
func namespaceBase(key string) string {
	return keyPrefix + key + ":"
}

func generationKey(key string) string {
	return namespaceBase(key) + "gen"
}

func sequenceKey(key string) string {
	return namespaceBase(key) + "seq"
}

// generationBase returns the key prefix of one generation.
func generationBase(key string, gen int64) string {
	return namespaceBase(key) + strconv.FormatInt(gen, 10) + ":"
}

func termsKey(base string) string {
	return base + "terms"
}

func idsKey(base, term string) string {
	return base + "ids:" + term
}

// currentGeneration reads the live generation number of a namespace.
func (p *Provider) currentGeneration(ctx context.Context, key string) (int64, error) {
	raw, err := p.client.Get(ctx, generationKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt generation %q: %w", raw, err)
	}
	return gen, nil
}

// Snapshot binds a read view to the current generation of key.
func (p *Provider) Snapshot(ctx context.Context, key string) (providers.Snapshot, error) {
	if p.closed.Load() {
		return nil, redis.ErrClosed
	}
	gen, err := p.currentGeneration(ctx, key)
	if err != nil {
		return nil, err
	}
	return &snapshot{client: p.client, base: generationBase(key, gen)}, nil
}

// Add inserts id under term in the live generation, adding the term when it is new.
func (p *Provider) Add(ctx context.Context, key, term, id string) error {
	err := addScript.Run(ctx, p.client,
		[]string{generationKey(key)},
		namespaceBase(key), term, id, providers.Terminator,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to add %q: %w", term, err)
	}
	return nil
}

// Remove deletes id from term in the live generation, dropping the term once empty.
func (p *Provider) Remove(ctx context.Context, key, term, id string) error {
	err := removeScript.Run(ctx, p.client,
		[]string{generationKey(key)},
		namespaceBase(key), term, id, providers.Terminator,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to remove %q: %w", term, err)
	}
	return nil
}

// Replace loads postings into a fresh generation and makes it live with one GETSET.
// The previous generation expires after RetireAfter, so snapshots bound to it keep
// reading a complete index.
func (p *Provider) Replace(ctx context.Context, key string, postings []providers.Posting) error {
	gen, err := p.client.Incr(ctx, sequenceKey(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate generation: %w", err)
	}
	base := generationBase(key, gen)

	if err := p.load(ctx, base, postings); err != nil {
		p.dropGeneration(context.WithoutCancel(ctx), base)
		return err
	}

	previous, err := p.client.GetSet(ctx, generationKey(key), gen).Result()
	switch {
	case errors.Is(err, redis.Nil):
		previous = "0"
	case err != nil:
		p.dropGeneration(context.WithoutCancel(ctx), base)
		return fmt.Errorf("failed to swap generation: %w", err)
	}

	if previous != strconv.FormatInt(gen, 10) {
		p.retireGeneration(context.WithoutCancel(ctx), namespaceBase(key)+previous+":")
	}
	return nil
}

// load writes postings into the generation at base in pipelined batches.
func (p *Provider) load(ctx context.Context, base string, postings []providers.Posting) error {
	terms := termsKey(base)
	seen := make(map[string]struct{}, len(postings))

	for start := 0; start < len(postings); start += p.batchSize {
		end := min(start+p.batchSize, len(postings))

		_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, posting := range postings[start:end] {
				pipe.ZAdd(ctx, idsKey(base, posting.Term), &redis.Z{Score: 0, Member: posting.ID})
				if _, ok := seen[posting.Term]; ok {
					continue
				}
				seen[posting.Term] = struct{}{}
				pipe.ZAdd(ctx, terms, &redis.Z{Score: 0, Member: posting.Term + providers.Terminator})
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to load postings %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// dropGeneration unlinks every key under base. Failures are logged; a leftover
// generation is unreachable and only costs memory.
func (p *Provider) dropGeneration(ctx context.Context, base string) {
	if err := p.unlinkMatching(ctx, escapeGlob(base)+"*"); err != nil {
		p.logger.Warn("failed to drop index generation",
			slog.String("generation", base), slog.Any("error", err))
	}
}

// retireGeneration puts a RetireAfter TTL on every key under base.
func (p *Provider) retireGeneration(ctx context.Context, base string) {
	err := p.eachMatching(ctx, escapeGlob(base)+"*", func(keys []string) error {
		_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range keys {
				pipe.Expire(ctx, k, p.retireAfter)
			}
			return nil
		})
		return err
	})
	if err != nil {
		p.logger.Warn("failed to retire index generation",
			slog.String("generation", base), slog.Any("error", err))
	}
}

// unlinkMatching scans for pattern and unlinks the matches batch by batch.
func (p *Provider) unlinkMatching(ctx context.Context, pattern string) error {
	return p.eachMatching(ctx, pattern, func(keys []string) error {
		if err := p.client.Unlink(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to unlink keys: %w", err)
		}
		return nil
	})
}

// eachMatching scans for pattern and hands every non-empty batch of keys to fn.
func (p *Provider) eachMatching(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := p.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return fmt.Errorf("failed to scan %q: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// DeleteAll removes every key of the namespace, all generations included.
func (p *Provider) DeleteAll(ctx context.Context, key string) error {
	return p.unlinkMatching(ctx, escapeGlob(namespaceBase(key))+"*")
}

// Ping checks connectivity.
func (p *Provider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis client. It is safe to call multiple times.
func (p *Provider) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.client.Close()
}

// escapeGlob escapes the glob metacharacters understood by SCAN MATCH.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// snapshot reads one generation.
type snapshot struct {
	client *redis.Client
	base   string
}

// Rank counts the members strictly below key, which is the insertion point of key.
func (s *snapshot) Rank(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZLexCount(ctx, termsKey(s.base), lexicographicMinChar, exclusivePrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to rank %q: %w", key, err)
	}
	return n, nil
}

func (s *snapshot) Range(ctx context.Context, position, count int64) ([]string, error) {
	if count <= 0 {
		return []string{}, nil
	}
	if position < 0 {
		position = 0
	}
	members, err := s.client.ZRange(ctx, termsKey(s.base), position, position+count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range from %d: %w", position, err)
	}
	return members, nil
}

func (s *snapshot) Products(ctx context.Context, terms []string, perTerm int64) ([][]string, error) {
	stop := int64(-1)
	if perTerm > 0 {
		stop = perTerm - 1
	}

	cmds := make([]*redis.StringSliceCmd, len(terms))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, term := range terms {
			cmds[i] = pipe.ZRange(ctx, idsKey(s.base, term), 0, stop)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve products: %w", err)
	}

	out := make([][]string, len(terms))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
		if out[i] == nil {
			out[i] = []string{}
		}
	}
	return out, nil
}
