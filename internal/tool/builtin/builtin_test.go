package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestWebSearchFallsBackToDuckDuckGoWithoutAPIKey(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		html := `<div class="result"><a class="result__a" href="https://example.com">Example</a><a class="result__snippet">Snippet</a></div>`
		return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewBufferString(html)), Header: make(http.Header)}, nil
	})}
	tl := NewWebSearch(WebSearchConfig{HTTPClient: client})

	content, data, err := tl.Handler(context.Background(), map[string]any{"query": "test"})
	require.NoError(t, err)
	assert.Contains(t, content, "Search (fallback): test")
	meta := data.(map[string]any)
	assert.Equal(t, "duckduckgo", meta["source"])
	assert.Equal(t, 1, meta["results_count"])
}

func TestWebSearchUsesTavilyWithAPIKey(t *testing.T) {
	var captured map[string]any
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &captured)
		response := map[string]any{
			"answer": "Go is a language",
			"results": []map[string]any{{
				"title": "Go", "url": "https://go.dev", "content": "programming language", "score": 0.9,
			}},
		}
		data, _ := json.Marshal(response)
		return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(data)), Header: make(http.Header)}, nil
	})}
	tl := NewWebSearch(WebSearchConfig{TavilyAPIKey: "token", HTTPClient: client})

	content, data, err := tl.Handler(context.Background(), map[string]any{"query": "golang"})
	require.NoError(t, err)
	assert.Equal(t, "token", captured["api_key"])
	assert.Contains(t, content, "Search: golang")
	meta := data.(map[string]any)
	assert.Equal(t, "tavily", meta["source"])
}

func TestReadWriteFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := FileConfig{Root: dir}
	write := NewWriteFile(cfg)
	read := NewReadFile(cfg)

	_, _, err := write.Handler(context.Background(), map[string]any{"path": "notes.txt", "content": "hello"})
	require.NoError(t, err)

	content, _, err := read.Handler(context.Background(), map[string]any{"path": "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestFileConfigRejectsPathEscapingRoot(t *testing.T) {
	cfg := FileConfig{Root: t.TempDir()}
	_, err := cfg.resolve("../../etc/passwd")
	require.Error(t, err)
}

func TestPatchFileAppliesUnifiedDiff(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0o644))

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain("line one\nline two\n", "line one\nline TWO\n", false)
	patches := dmp.PatchMake("line one\nline two\n", diffs)
	patchText := dmp.PatchToText(patches)

	tl := NewPatchFile(FileConfig{Root: dir})
	_, _, err := tl.Handler(context.Background(), map[string]any{"path": "file.txt", "patch": patchText})
	require.NoError(t, err)

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline TWO\n", string(out))
}
