package elasticsearch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/remiges-tech/prefixsearch/providers"
)

const (
	// firstGeneration is the suffix of the index created on the first write to a namespace.
	firstGeneration = "0"

	// addScriptSource appends params.id to the id list of a term document. Readers
	// sort the list, so ids order byte-wise like in the other providers.
	addScriptSource = `if (ctx._source.ids.contains(params.id)) { ctx.op = 'noop' } ` +
		`else { ctx._source.ids.add(params.id) }`

	// removeScriptSource removes params.id and deletes the document once no id is left.
	removeScriptSource = `if (ctx._source.ids.removeIf(x -> x == params.id)) { ` +
		`if (ctx._source.ids.isEmpty()) { ctx.op = 'delete' } } else { ctx.op = 'noop' }`

	// retryOnConflict is the number of retries for concurrent scripted updates.
	retryOnConflict = 3

	httpNotFound = 404

	// retireTimeout bounds the delayed delete of a replaced index.
	retireTimeout = 30 * time.Second
)

// errIndexExists reports a create request for an index that is already there.
var errIndexExists = errors.New("index already exists")

// Provider implements the Provider interface using Elasticsearch.
// All methods are safe for concurrent use.
type Provider struct {
	client *elasticsearch.Client
	config Config

	// ensured caches aliases known to exist.
	ensured sync.Map
}

// document represents the structure stored in Elasticsearch.
type document struct {
	Term string   `json:"term"`
	IDs  []string `json:"ids"`
}

// searchResponse represents the parts of an Elasticsearch search response used by Range.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// mgetResponse represents an Elasticsearch multi-get response.
type mgetResponse struct {
	Docs []struct {
		Found  bool     `json:"found"`
		Source document `json:"_source"`
	} `json:"docs"`
}

// bulkResponse represents the parts of a _bulk response needed to detect item failures.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// New creates a new Elasticsearch provider with the given configuration.
func New(config *Config) (*Provider, error) {
	config.setDefaults()

	esConfig := elasticsearch.Config{
		Addresses: config.URLs,
		Username:  config.Username,
		Password:  config.Password, // pragma: allowlist secret
		CloudID:   config.CloudID,
		APIKey:    config.APIKey,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, fmt.Errorf("Elasticsearch connection error: %s", res.String())
	}

	return &Provider{
		client: client,
		config: *config,
	}, nil
}

// perform executes req and returns the status code and body. Error statuses other
// than the tolerated ones are returned as errors.
func (p *Provider) perform(ctx context.Context, req esapi.Request, op string, tolerated ...int) (int, []byte, error) {
	res, err := req.Do(ctx, p.client)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if res.IsError() && !slices.Contains(tolerated, res.StatusCode) {
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return res.StatusCode, body, errIndexExists
		}
		return res.StatusCode, body, fmt.Errorf("failed to %s: %s %s", op, res.Status(), body)
	}
	return res.StatusCode, body, nil
}

func encode(v interface{}) (*bytes.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return bytes.NewReader(raw), nil
}

// alias returns the alias serving namespace key.
func (p *Provider) alias(key string) string {
	return indexName(p.config.Index + "-" + key)
}

// indexName lowercases s and replaces characters Elasticsearch rejects in index names.
func indexName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', '*', '?', '"', '<', '>', '|', ' ', ',', '#', ':':
			return '_'
		}
		return r
	}, strings.ToLower(s))
}

// documentID maps a term to a URL-safe document id.
func documentID(term string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(term))
}

// aliasIndices lists the concrete indices behind alias, sorted by name.
func (p *Provider) aliasIndices(ctx context.Context, alias string) ([]string, error) {
	status, body, err := p.perform(ctx, esapi.IndicesGetAliasRequest{Name: []string{alias}}, "get alias", httpNotFound)
	if err != nil {
		return nil, err
	}
	if status == httpNotFound {
		return nil, nil
	}
	return parseAliasIndices(body)
}

func parseAliasIndices(body []byte) ([]string, error) {
	var indices map[string]json.RawMessage
	if err := json.Unmarshal(body, &indices); err != nil {
		return nil, fmt.Errorf("failed to decode alias response: %w", err)
	}
	names := make([]string, 0, len(indices))
	for name := range indices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// generationIndices lists every generation index of alias, whether the alias
// points at it or not.
func (p *Provider) generationIndices(ctx context.Context, alias string) ([]string, error) {
	status, body, err := p.perform(ctx, esapi.IndicesGetRequest{Index: []string{alias + "-*"}}, "list indices", httpNotFound)
	if err != nil {
		return nil, err
	}
	if status == httpNotFound {
		return nil, nil
	}
	return parseGenerationIndices(body, alias)
}

// parseGenerationIndices keeps the names "<alias>-<digits>", which excludes the
// indices of namespaces whose alias merely starts with alias.
func parseGenerationIndices(body []byte, alias string) ([]string, error) {
	names, err := parseAliasIndices(body)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, name := range names {
		suffix, ok := strings.CutPrefix(name, alias+"-")
		if !ok || suffix == "" {
			continue
		}
		if _, err := strconv.ParseUint(suffix, 10, 64); err == nil {
			out = append(out, name)
		}
	}
	return out, nil
}

// createIndex creates a generation index, optionally attaching alias.
func (p *Provider) createIndex(ctx context.Context, name, alias string) error {
	body := map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   p.config.NumberOfShards,
			"number_of_replicas": p.config.NumberOfReplicas,
		},
		"mappings": map[string]interface{}{
			"dynamic": "strict",
			"properties": map[string]interface{}{
				"term": map[string]interface{}{"type": "keyword"},
				"ids":  map[string]interface{}{"type": "keyword"},
			},
		},
	}
	if alias != "" {
		body["aliases"] = map[string]interface{}{alias: map[string]interface{}{}}
	}

	reader, err := encode(body)
	if err != nil {
		return err
	}
	_, _, err = p.perform(ctx, esapi.IndicesCreateRequest{Index: name, Body: reader}, "create index")
	return err
}

// ensureAlias makes sure the alias of key points at an index, creating the first
// generation when the namespace has never been written.
func (p *Provider) ensureAlias(ctx context.Context, key string) (string, error) {
	alias := p.alias(key)
	if _, ok := p.ensured.Load(alias); ok {
		return alias, nil
	}

	indices, err := p.aliasIndices(ctx, alias)
	if err != nil {
		return "", err
	}
	if len(indices) == 0 {
		err := p.createIndex(ctx, alias+"-"+firstGeneration, alias)
		if err != nil && !errors.Is(err, errIndexExists) {
			return "", err
		}
	}

	p.ensured.Store(alias, struct{}{})
	return alias, nil
}

// Snapshot binds a read view to the index currently behind the alias of key.
func (p *Provider) Snapshot(ctx context.Context, key string) (providers.Snapshot, error) {
	indices, err := p.aliasIndices(ctx, p.alias(key))
	if err != nil {
		return nil, err
	}
	s := &snapshot{provider: p}
	if len(indices) > 0 {
		s.index = indices[len(indices)-1]
	}
	return s, nil
}

// Add inserts id into the term document, creating it when absent.
func (p *Provider) Add(ctx context.Context, key, term, id string) error {
	alias, err := p.ensureAlias(ctx, key)
	if err != nil {
		return err
	}

	reader, err := encode(map[string]interface{}{
		"script": map[string]interface{}{
			"source": addScriptSource,
			"lang":   "painless",
			"params": map[string]interface{}{"id": id},
		},
		"upsert": document{Term: term + providers.Terminator, IDs: []string{id}},
	})
	if err != nil {
		return err
	}

	retries := retryOnConflict
	_, _, err = p.perform(ctx, esapi.UpdateRequest{
		Index:           alias,
		DocumentID:      documentID(term),
		Body:            reader,
		Refresh:         p.config.RefreshPolicy,
		RetryOnConflict: &retries,
	}, "add product")
	return err
}

// Remove deletes id from the term document; the script deletes the document when empty.
func (p *Provider) Remove(ctx context.Context, key, term, id string) error {
	reader, err := encode(map[string]interface{}{
		"script": map[string]interface{}{
			"source": removeScriptSource,
			"lang":   "painless",
			"params": map[string]interface{}{"id": id},
		},
	})
	if err != nil {
		return err
	}

	// 404 is not an error for remove (idempotent)
	retries := retryOnConflict
	_, _, err = p.perform(ctx, esapi.UpdateRequest{
		Index:           p.alias(key),
		DocumentID:      documentID(term),
		Body:            reader,
		Refresh:         p.config.RefreshPolicy,
		RetryOnConflict: &retries,
	}, "remove product", httpNotFound)
	return err
}

// Replace loads postings into a new index and moves the alias to it atomically.
// The previous index is deleted after RetireAfter.
func (p *Provider) Replace(ctx context.Context, key string, postings []providers.Posting) error {
	alias := p.alias(key)
	previous, err := p.aliasIndices(ctx, alias)
	if err != nil {
		return err
	}

	next := alias + "-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := p.createIndex(ctx, next, ""); err != nil {
		return err
	}

	if err := p.load(ctx, next, postings); err != nil {
		p.deleteIndices(context.WithoutCancel(ctx), []string{next})
		return err
	}

	actions := make([]interface{}, 0, len(previous)+1)
	for _, index := range previous {
		actions = append(actions, map[string]interface{}{
			"remove": map[string]interface{}{"index": index, "alias": alias},
		})
	}
	actions = append(actions, map[string]interface{}{
		"add": map[string]interface{}{"index": next, "alias": alias},
	})

	reader, err := encode(map[string]interface{}{"actions": actions})
	if err != nil {
		return err
	}
	if _, _, err := p.perform(ctx, esapi.IndicesUpdateAliasesRequest{Body: reader}, "swap alias"); err != nil {
		p.deleteIndices(context.WithoutCancel(ctx), []string{next})
		return err
	}
	p.ensured.Store(alias, struct{}{})

	p.retire(previous)
	return nil
}

// retire deletes indices once RetireAfter has passed, so snapshots bound to them
// can finish.
func (p *Provider) retire(indices []string) {
	if len(indices) == 0 {
		return
	}
	time.AfterFunc(p.config.RetireAfter, func() {
		ctx, cancel := context.WithTimeout(context.Background(), retireTimeout)
		defer cancel()
		p.deleteIndices(ctx, indices)
	})
}

// load bulk-indexes one document per term into index and refreshes it.
func (p *Provider) load(ctx context.Context, index string, postings []providers.Posting) error {
	docs := groupPostings(postings)

	for start := 0; start < len(docs); start += p.config.BulkSize {
		end := min(start+p.config.BulkSize, len(docs))

		var buf bytes.Buffer
		for _, doc := range docs[start:end] {
			if err := writeBulkIndex(&buf, doc); err != nil {
				return err
			}
		}

		_, body, err := p.perform(ctx, esapi.BulkRequest{Index: index, Body: &buf}, "bulk load")
		if err != nil {
			return err
		}
		if err := checkBulk(body); err != nil {
			return err
		}
	}

	_, _, err := p.perform(ctx, esapi.IndicesRefreshRequest{Index: []string{index}}, "refresh index")
	return err
}

// groupPostings folds postings into one document per term, ids sorted and unique,
// documents ordered by term.
func groupPostings(postings []providers.Posting) []document {
	byTerm := make(map[string][]string)
	for _, posting := range postings {
		byTerm[posting.Term] = append(byTerm[posting.Term], posting.ID)
	}

	docs := make([]document, 0, len(byTerm))
	for term, ids := range byTerm {
		slices.Sort(ids)
		docs = append(docs, document{Term: term + providers.Terminator, IDs: slices.Compact(ids)})
	}
	slices.SortFunc(docs, func(a, b document) int { return strings.Compare(a.Term, b.Term) })
	return docs
}

// writeBulkIndex appends one index action and its source to an NDJSON buffer.
func writeBulkIndex(buf *bytes.Buffer, doc document) error {
	term := strings.TrimSuffix(doc.Term, providers.Terminator)
	meta, err := json.Marshal(map[string]interface{}{
		"index": map[string]interface{}{"_id": documentID(term)},
	})
	if err != nil {
		return fmt.Errorf("failed to encode bulk action: %w", err)
	}
	source, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	buf.Write(meta)
	buf.WriteByte('\n')
	buf.Write(source)
	buf.WriteByte('\n')
	return nil
}

func checkBulk(body []byte) error {
	var response bulkResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !response.Errors {
		return nil
	}
	for _, item := range response.Items {
		for action, result := range item {
			if result.Error.Type != "" {
				return fmt.Errorf("bulk %s failed: %s: %s", action, result.Error.Type, result.Error.Reason)
			}
		}
	}
	return errors.New("bulk load reported errors")
}

// deleteIndices removes generation indices. A leftover index is unreachable behind
// the alias, so failures are ignored.
func (p *Provider) deleteIndices(ctx context.Context, indices []string) {
	if len(indices) == 0 {
		return
	}
	_, _, _ = p.perform(ctx, esapi.IndicesDeleteRequest{Index: indices}, "delete index", httpNotFound)
}

// DeleteAll removes every generation index of the namespace, retired ones included.
func (p *Provider) DeleteAll(ctx context.Context, key string) error {
	alias := p.alias(key)
	indices, err := p.generationIndices(ctx, alias)
	if err != nil {
		return err
	}
	p.ensured.Delete(alias)
	if len(indices) == 0 {
		return nil
	}
	_, _, err = p.perform(ctx, esapi.IndicesDeleteRequest{Index: indices}, "delete index", httpNotFound)
	return err
}

// Ping checks cluster reachability.
func (p *Provider) Ping(ctx context.Context) error {
	_, _, err := p.perform(ctx, esapi.PingRequest{}, "ping")
	return err
}

// Close closes the provider connection.
func (p *Provider) Close() error {
	// The Elasticsearch Go client doesn't have a Close method
	// as it uses standard HTTP connections that are managed by Go's http package
	return nil
}

// snapshot reads one concrete generation index. An empty index name means the
// namespace has never been written.
type snapshot struct {
	provider *Provider
	index    string
}

func (s *snapshot) Rank(ctx context.Context, key string) (int64, error) {
	if s.index == "" {
		return 0, nil
	}

	reader, err := encode(map[string]interface{}{
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"term": map[string]interface{}{"lt": key},
			},
		},
	})
	if err != nil {
		return 0, err
	}

	_, body, err := s.provider.perform(ctx, esapi.CountRequest{Index: []string{s.index}, Body: reader}, "rank")
	if err != nil {
		return 0, err
	}

	var response struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return response.Count, nil
}

// Range pages through terms in keyword order. from+size is bounded by the index's
// max_result_window; deeper windows fail.
func (s *snapshot) Range(ctx context.Context, position, count int64) ([]string, error) {
	if s.index == "" || count <= 0 {
		return []string{}, nil
	}
	if position < 0 {
		position = 0
	}

	reader, err := encode(map[string]interface{}{
		"from":             position,
		"size":             count,
		"sort":             []interface{}{map[string]interface{}{"term": "asc"}},
		"_source":          []string{"term"},
		"track_total_hits": false,
	})
	if err != nil {
		return nil, err
	}

	_, body, err := s.provider.perform(ctx, esapi.SearchRequest{Index: []string{s.index}, Body: reader}, "range")
	if err != nil {
		return nil, err
	}
	return parseSearchTerms(body)
}

func parseSearchTerms(body []byte) ([]string, error) {
	var response searchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	terms := make([]string, 0, len(response.Hits.Hits))
	for _, hit := range response.Hits.Hits {
		terms = append(terms, hit.Source.Term)
	}
	return terms, nil
}

func (s *snapshot) Products(ctx context.Context, terms []string, perTerm int64) ([][]string, error) {
	out := make([][]string, len(terms))
	for i := range out {
		out[i] = []string{}
	}
	if s.index == "" || len(terms) == 0 {
		return out, nil
	}

	ids := make([]string, len(terms))
	for i, term := range terms {
		ids[i] = documentID(term)
	}
	reader, err := encode(map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, err
	}

	_, body, err := s.provider.perform(ctx, esapi.MgetRequest{Index: s.index, Body: reader}, "resolve products")
	if err != nil {
		return nil, err
	}
	return parseMget(body, len(terms), perTerm)
}

func parseMget(body []byte, n int, perTerm int64) ([][]string, error) {
	var response mgetResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode mget response: %w", err)
	}

	out := make([][]string, n)
	for i := range out {
		out[i] = []string{}
		if i >= len(response.Docs) || !response.Docs[i].Found {
			continue
		}
		ids := response.Docs[i].Source.IDs
		slices.Sort(ids)
		if perTerm > 0 && int64(len(ids)) > perTerm {
			ids = ids[:perTerm]
		}
		out[i] = ids
	}
	return out, nil
}
