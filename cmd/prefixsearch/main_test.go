package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiges-tech/prefixsearch"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PREFIXSEARCH_PROVIDER", "memory")
	t.Setenv("PREFIXSEARCH_LOGGING_LEVEL", "error")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "prefixsearch version dev")
}

func TestSearchOnEmptyIndex(t *testing.T) {
	out, err := run(t, "search", "app", "--limit", "3")
	require.NoError(t, err)

	var page prefixsearch.Page
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}

func TestSearchRequiresPrefix(t *testing.T) {
	_, err := run(t, "search")
	assert.Error(t, err)
}

func TestRebuildFromFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"id":"p1","name":"Apple"},{"id":"p2","name":"Apricot"}]`), 0o600))

	out, err := run(t, "rebuild", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, `rebuilt "storefront" with 2 products`)
}

func TestRebuildWithoutCatalog(t *testing.T) {
	_, err := run(t, "rebuild")
	assert.ErrorContains(t, err, "no catalog configured")
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("PREFIXSEARCH_SEARCH_MAX_LIMIT", "0")
	_, err := run(t, "search", "app")
	assert.ErrorContains(t, err, "invalid configuration")
}
