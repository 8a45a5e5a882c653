// Package web implements the HTTP-facing tools: web_search, web_fetch,
// and http_request.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sharphq/sharpbot/internal/tools"
)

const (
	maxFetchBytes    = 100 * 1024
	maxResponseChars = 50 * 1024
	defaultResults   = 5
	maxResults       = 20
)

func newClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// SearchTool implements web_search. With a Brave API key it uses the
// Brave Search API; otherwise it falls back to DuckDuckGo's instant
// answer API.
type SearchTool struct {
	BraveAPIKey string

	client *http.Client
}

func NewSearchTool(braveAPIKey string) *SearchTool {
	return &SearchTool{BraveAPIKey: braveAPIKey, client: newClient()}
}

func (t *SearchTool) Name() string        { return "web_search" }
func (t *SearchTool) Description() string { return "Search the web and return titles, URLs, and snippets." }

func (t *SearchTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"query": tools.StringProp("The search query"),
		"count": map[string]any{"type": "integer", "description": "Number of results (default 5, max 20)"},
	}, "query")
}

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required")
	}
	count := intArg(args, "count")
	if count <= 0 {
		count = defaultResults
	}
	if count > maxResults {
		count = maxResults
	}

	var (
		results []searchResult
		err     error
	)
	if t.BraveAPIKey != "" {
		results, err = t.searchBrave(ctx, query, count)
	} else {
		results, err = t.searchDuckDuckGo(ctx, query, count)
	}
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (t *SearchTool) searchBrave(ctx context.Context, query string, count int) ([]searchResult, error) {
	return t.braveFrom(ctx, "https://api.search.brave.com/res/v1/web/search", query, count)
}

func (t *SearchTool) braveFrom(ctx context.Context, base, query string, count int) ([]searchResult, error) {
	endpoint := fmt.Sprintf("%s?q=%s&count=%d", base, url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.BraveAPIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search: status %d", resp.StatusCode)
	}

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("brave search: decode: %w", err)
	}

	results := make([]searchResult, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
		if len(results) >= count {
			break
		}
	}
	return results, nil
}

func (t *SearchTool) searchDuckDuckGo(ctx context.Context, query string, count int) ([]searchResult, error) {
	return t.duckDuckGoFrom(ctx, "https://api.duckduckgo.com/?q=%s&format=json&no_html=1", query, count)
}

func (t *SearchTool) duckDuckGoFrom(ctx context.Context, format, query string, count int) ([]searchResult, error) {
	endpoint := fmt.Sprintf(format, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo search: status %d", resp.StatusCode)
	}

	var body struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("duckduckgo search: decode: %w", err)
	}

	var results []searchResult
	if body.AbstractText != "" {
		results = append(results, searchResult{
			Title: body.Heading, URL: body.AbstractURL, Snippet: body.AbstractText,
		})
	}
	for _, topic := range body.RelatedTopics {
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		results = append(results, searchResult{Title: topic.Text, URL: topic.FirstURL})
		if len(results) >= count {
			break
		}
	}
	return results, nil
}

// FetchTool implements web_fetch: GET a URL and return readable text.
type FetchTool struct {
	client *http.Client
}

func NewFetchTool() *FetchTool {
	return &FetchTool{client: newClient()}
}

func (t *FetchTool) Name() string        { return "web_fetch" }
func (t *FetchTool) Description() string { return "Fetch a URL and return its text content, HTML stripped." }

func (t *FetchTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"url": tools.StringProp("The URL to fetch"),
	}, "url")
}

func (t *FetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	target, _ := args["url"].(string)
	if err := validateURL(target); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "sharpbot/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", target, err)
	}
	truncated := len(body) > maxFetchBytes
	if truncated {
		body = body[:maxFetchBytes]
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text = StripHTML(text)
	}
	if truncated {
		text += "\n… (truncated)"
	}
	return fmt.Sprintf("Status: %d\n\n%s", resp.StatusCode, text), nil
}

// RequestTool implements http_request for arbitrary methods.
type RequestTool struct {
	client *http.Client
}

func NewRequestTool() *RequestTool {
	return &RequestTool{client: newClient()}
}

func (t *RequestTool) Name() string { return "http_request" }

func (t *RequestTool) Description() string {
	return "Send an HTTP request with a chosen method, headers, and body; returns status, headers, and body."
}

func (t *RequestTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"method": map[string]any{
			"type": "string",
			"enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
		},
		"url":     tools.StringProp("Target URL"),
		"headers": map[string]any{"type": "object", "description": "Request headers"},
		"body":    tools.StringProp("Request body"),
	}, "method", "url")
}

func (t *RequestTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	method, _ := args["method"].(string)
	target, _ := args["url"].(string)
	if err := validateURL(target); err != nil {
		return "", err
	}
	body, _ := args["body"].(string)

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target, strings.NewReader(body))
	if err != nil {
		return "", err
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %d\n", resp.StatusCode)
	for _, key := range []string{"Content-Type", "Location"} {
		if v := resp.Header.Get(key); v != "" {
			fmt.Fprintf(&sb, "%s: %s\n", key, v)
		}
	}
	sb.WriteString("\n")
	sb.WriteString(truncate(string(respBody), maxResponseChars))
	return sb.String(), nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	breakRe  = regexp.MustCompile(`(?i)<(br|/p|/div|/h[1-6]|/li|/tr)[^>]*>`)
	stripRe  = regexp.MustCompile(`<[^>]*>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
)

// StripHTML reduces an HTML document to readable text.
func StripHTML(html string) string {
	text := scriptRe.ReplaceAllString(html, " ")
	text = breakRe.ReplaceAllString(text, "\n")
	text = stripRe.ReplaceAllString(text, " ")
	text = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(text)
	text = spaceRe.ReplaceAllString(text, " ")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return blankRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("only http and https URLs are supported")
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n… (truncated)"
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
