// Package builtin implements the sample tool surface an embedder can
// register against tool.Registry: web search, file read/write, and a
// unified-diff patch applier.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"fractal/internal/tool"
)

// WebSearchConfig configures the search_web tool's upstream providers.
type WebSearchConfig struct {
	TavilyAPIKey string
	HTTPClient   *http.Client
}

// NewWebSearch builds the search_web read-only tool: Tavily when an API
// key is configured, falling back to scraping DuckDuckGo's HTML result
// page via goquery otherwise.
func NewWebSearch(cfg WebSearchConfig) tool.Tool {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	apiKey := cfg.TavilyAPIKey

	return tool.Tool{
		Name:        "search_web",
		Description: "Search the web for a query and return ranked result snippets.",
		IsReadonly:  true,
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", nil, fmt.Errorf("query must not be empty")
			}
			if apiKey != "" {
				return searchTavily(ctx, client, apiKey, query)
			}
			return searchDuckDuckGo(ctx, client, query)
		},
	}
}

func searchTavily(ctx context.Context, client *http.Client, apiKey, query string) (string, any, error) {
	payload, err := json.Marshal(map[string]any{"api_key": apiKey, "query": query})
	if err != nil {
		return "", nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.tavily.com/search", bytes.NewReader(payload))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", nil, fmt.Errorf("tavily response decode: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search: %s\n", query)
	if parsed.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n", parsed.Answer)
	}
	for i, r := range parsed.Results {
		fmt.Fprintf(&b, "%d. %s (%s) - %s\n", i+1, r.Title, r.URL, r.Content)
	}

	return b.String(), map[string]any{"source": "tavily", "results_count": len(parsed.Results)}, nil
}

func searchDuckDuckGo(ctx context.Context, client *http.Client, query string) (string, any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://html.duckduckgo.com/html/?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Sprintf("Search (fallback): %s\n(no network access: %v)", query, err), map[string]any{"source": "duckduckgo", "results_count": 0}, nil
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("duckduckgo response parse: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search (fallback): %s\n", query)
	count := 0
	doc.Find("div.result").Each(func(i int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find("a.result__a").First().Text())
		href, _ := sel.Find("a.result__a").First().Attr("href")
		snippet := strings.TrimSpace(sel.Find("a.result__snippet").First().Text())
		if title == "" {
			return
		}
		count++
		fmt.Fprintf(&b, "%d. %s (%s) - %s\n", count, title, href, snippet)
	})

	return b.String(), map[string]any{"source": "duckduckgo", "results_count": count}, nil
}
