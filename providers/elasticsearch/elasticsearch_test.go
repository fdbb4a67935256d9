package elasticsearch

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/remiges-tech/prefixsearch/providers"
)

const testKey = "test"

var (
	setupOnce       sync.Once
	setupErr        error
	sharedContainer testcontainers.Container
	sharedProvider  *Provider
)

// TestMain terminates the Elasticsearch node, if an integration test started one.
func TestMain(m *testing.M) {
	code := m.Run()

	if err := testcontainers.TerminateContainer(sharedContainer); err != nil {
		log.Printf("Failed to terminate container: %v", err)
	}
	os.Exit(code)
}

func startElasticsearch(ctx context.Context) (testcontainers.Container, *Provider, error) {
	req := testcontainers.ContainerRequest{
		Image:        "docker.elastic.co/elasticsearch/elasticsearch:8.18.1",
		ExposedPorts: []string{"9200/tcp"},
		Env: map[string]string{
			"discovery.type":         "single-node",
			"xpack.security.enabled": "false",
			"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
		},
		WaitingFor: wait.ForHTTP("/").WithPort("9200/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return container, nil, fmt.Errorf("start container: %w", err)
	}
	endpoint, err := container.PortEndpoint(ctx, "9200/tcp", "http")
	if err != nil {
		return container, nil, err
	}
	provider, err := New(&Config{URLs: []string{endpoint}, RefreshPolicy: "true"})
	if err != nil {
		return container, nil, err
	}
	return container, provider, nil
}

// getTestProvider starts the node on first use and skips when Docker is not
// available; the unit tests of this package never need it.
func getTestProvider(t *testing.T) *Provider {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	setupOnce.Do(func() {
		sharedContainer, sharedProvider, setupErr = startElasticsearch(context.Background())
	})
	if setupErr != nil || sharedProvider == nil {
		t.Skipf("Elasticsearch container not available: %v", setupErr)
	}
	if err := sharedProvider.DeleteAll(context.Background(), testKey); err != nil {
		t.Fatalf("Failed to clear namespace: %v", err)
	}
	return sharedProvider
}

func TestIndexName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"prefixsearch-storefront", "prefixsearch-storefront"},
		{"PrefixSearch-Stage", "prefixsearch-stage"},
		{"ps-a b/c:d", "ps-a_b_c_d"},
	}
	for _, tt := range tests {
		if got := indexName(tt.in); got != tt.want {
			t.Errorf("indexName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDocumentIDIsPathSafe(t *testing.T) {
	for _, term := range []string{"CANVAS PRINT", "A/B", "CAFÉ?"} {
		id := documentID(term)
		if strings.ContainsAny(id, "/?#% ") {
			t.Errorf("documentID(%q) = %q contains unsafe characters", term, id)
		}
	}
	if documentID("A") == documentID("B") {
		t.Error("documentID collides for distinct terms")
	}
}

func TestGroupPostings(t *testing.T) {
	docs := groupPostings([]providers.Posting{
		{Term: "CAT", ID: "p2"},
		{Term: "APPLE", ID: "p9"},
		{Term: "CAT", ID: "p1"},
		{Term: "CAT", ID: "p2"},
	})

	want := []document{
		{Term: "APPLE*", IDs: []string{"p9"}},
		{Term: "CAT*", IDs: []string{"p1", "p2"}},
	}
	if fmt.Sprint(docs) != fmt.Sprint(want) {
		t.Errorf("groupPostings() = %v, want %v", docs, want)
	}
}

func TestWriteBulkIndex(t *testing.T) {
	var buf bytes.Buffer
	if err := writeBulkIndex(&buf, document{Term: "CAT*", IDs: []string{"p1"}}); err != nil {
		t.Fatalf("writeBulkIndex() error = %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected action and source lines, got %q", buf.String())
	}
	if want := fmt.Sprintf(`{"index":{"_id":"%s"}}`, documentID("CAT")); lines[0] != want {
		t.Errorf("action line = %s, want %s", lines[0], want)
	}
	if lines[1] != `{"term":"CAT*","ids":["p1"]}` {
		t.Errorf("source line = %s", lines[1])
	}
}

func TestCheckBulk(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"clean", `{"errors":false,"items":[{"index":{"status":201}}]}`, ""},
		{
			"item failure",
			`{"errors":true,"items":[{"index":{"status":400,"error":{"type":"mapper_parsing_exception","reason":"bad"}}}]}`,
			"mapper_parsing_exception",
		},
		{"garbage", `not json`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkBulk([]byte(tt.body))
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("checkBulk() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("checkBulk() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseResponses(t *testing.T) {
	indices, err := parseAliasIndices([]byte(`{"ps-test-2":{"aliases":{"ps-test":{}}},"ps-test-10":{"aliases":{"ps-test":{}}}}`))
	if err != nil {
		t.Fatalf("parseAliasIndices() error = %v", err)
	}
	if fmt.Sprint(indices) != "[ps-test-10 ps-test-2]" {
		t.Errorf("parseAliasIndices() = %v", indices)
	}

	terms, err := parseSearchTerms([]byte(`{"hits":{"hits":[{"_source":{"term":"APPLE*"}},{"_source":{"term":"APRICOT*"}}]}}`))
	if err != nil {
		t.Fatalf("parseSearchTerms() error = %v", err)
	}
	if fmt.Sprint(terms) != "[APPLE* APRICOT*]" {
		t.Errorf("parseSearchTerms() = %v", terms)
	}

	ids, err := parseMget([]byte(`{"docs":[{"found":true,"_source":{"term":"CAT*","ids":["p2","p1"]}},{"found":false}]}`), 2, 1)
	if err != nil {
		t.Fatalf("parseMget() error = %v", err)
	}
	if fmt.Sprint(ids) != "[[p1] []]" {
		t.Errorf("parseMget() = %v", ids)
	}

	generations, err := parseGenerationIndices([]byte(`{"ps-test-0":{},"ps-test-17":{},"ps-test-x-0":{},"ps-test-":{}}`), "ps-test")
	if err != nil {
		t.Fatalf("parseGenerationIndices() error = %v", err)
	}
	if fmt.Sprint(generations) != "[ps-test-0 ps-test-17]" {
		t.Errorf("parseGenerationIndices() = %v", generations)
	}
}

func TestParseMgetOrdersIDsByteWise(t *testing.T) {
	// U+E000 sorts after U+1F600 in UTF-16 code units but before it in UTF-8 bytes.
	body := []byte(`{"docs":[{"found":true,"_source":{"term":"CAT*","ids":["\ud83d\ude00","\ue000","b","a"]}}]}`)
	ids, err := parseMget(body, 1, 0)
	if err != nil {
		t.Fatalf("parseMget() error = %v", err)
	}
	want := []string{"a", "b", "\ue000", "\U0001F600"}
	if fmt.Sprint(ids[0]) != fmt.Sprint(want) {
		t.Errorf("parseMget() ids = %q, want %q", ids[0], want)
	}
}

func TestElasticsearchProvider_SnapshotSurvivesReplace(t *testing.T) {
	provider := getTestProvider(t)
	ctx := context.Background()

	postings := []providers.Posting{{Term: "APPLE", ID: "p1"}, {Term: "APRICOT", ID: "p2"}}
	if err := provider.Replace(ctx, testKey, postings); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	snap, err := provider.Snapshot(ctx, testKey)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	rank, err := snap.Rank(ctx, "AP")
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}

	if err := provider.Replace(ctx, testKey, postings); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	window, err := snap.Range(ctx, rank, 8)
	if err != nil {
		t.Fatalf("Range() on replaced index error = %v", err)
	}
	if fmt.Sprint(window) != "[APPLE* APRICOT*]" {
		t.Errorf("Range() on replaced index = %v", window)
	}
	ids, err := snap.Products(ctx, []string{"APPLE"}, 1)
	if err != nil || fmt.Sprint(ids) != "[[p1]]" {
		t.Errorf("Products() on replaced index = %v, %v", ids, err)
	}
}

func TestElasticsearchProvider_RetiredIndexIsDeleted(t *testing.T) {
	shared := getTestProvider(t)
	ctx := context.Background()

	config := shared.config
	config.RetireAfter = 200 * time.Millisecond
	provider := &Provider{client: shared.client, config: config}

	if err := provider.Replace(ctx, testKey, []providers.Posting{{Term: "OLD", ID: "p0"}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	before, err := provider.Snapshot(ctx, testKey)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if err := provider.Replace(ctx, testKey, []providers.Posting{{Term: "NEW", ID: "p1"}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := before.Range(ctx, 0, 10); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("replaced index still readable after RetireAfter")
		}
		time.Sleep(100 * time.Millisecond)
	}

	indices, err := provider.generationIndices(ctx, provider.alias(testKey))
	if err != nil {
		t.Fatalf("generationIndices() error = %v", err)
	}
	if len(indices) != 1 {
		t.Errorf("generation indices = %v, want only the live one", indices)
	}
}

func TestElasticsearchProvider_Lifecycle(t *testing.T) {
	provider := getTestProvider(t)
	ctx := context.Background()

	for _, posting := range []providers.Posting{
		{Term: "BANANA", ID: "p3"},
		{Term: "APPLE", ID: "p1"},
		{Term: "APPLESAUCE", ID: "p2"},
		{Term: "APPLE", ID: "p0"},
		{Term: "APPLE", ID: "p0"},
	} {
		if err := provider.Add(ctx, testKey, posting.Term, posting.ID); err != nil {
			t.Fatalf("Add(%v) error = %v", posting, err)
		}
	}

	snap, err := provider.Snapshot(ctx, testKey)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	rank, err := snap.Rank(ctx, "APP")
	if err != nil || rank != 0 {
		t.Fatalf("Rank(APP) = %d, %v", rank, err)
	}
	window, err := snap.Range(ctx, rank, 3)
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if fmt.Sprint(window) != "[APPLE* APPLESAUCE* BANANA*]" {
		t.Errorf("Range() = %v", window)
	}
	ids, err := snap.Products(ctx, []string{"APPLE", "MISSING"}, 0)
	if err != nil {
		t.Fatalf("Products() error = %v", err)
	}
	if fmt.Sprint(ids) != "[[p0 p1] []]" {
		t.Errorf("Products() = %v", ids)
	}

	if err := provider.Remove(ctx, testKey, "BANANA", "p3"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := provider.Remove(ctx, testKey, "BANANA", "p3"); err != nil {
		t.Errorf("Remove() of absent pair error = %v", err)
	}
	if rank, _ := snap.Rank(ctx, "C"); rank != 2 {
		t.Errorf("dangling term after last removal, Rank(C) = %d", rank)
	}

	if err := provider.Replace(ctx, testKey, []providers.Posting{{Term: "CHERRY", ID: "p7"}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	fresh, err := provider.Snapshot(ctx, testKey)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if window, _ := fresh.Range(ctx, 0, 10); fmt.Sprint(window) != "[CHERRY*]" {
		t.Errorf("Range() after Replace = %v", window)
	}
}
