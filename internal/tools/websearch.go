package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	webSearchUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
	webSearchTimeoutSecs = 20
	webSearchDefaultN    = 5
)

// WebSearchRequest is the input schema for WEB.SEARCH.v1.
type WebSearchRequest struct {
	Query string `json:"query" jsonschema:"required"`
	Count int    `json:"count,omitempty"`
}

// WebSearchHandler scrapes DuckDuckGo's HTML endpoint, following the
// teacher's web-search provider shape (a stdlib net/http client against an
// HTML endpoint, regex-extracted results) but collapsed to the one
// provider the spec names (spec.md §4.4 "search/HTTP-GET").
type WebSearchHandler struct {
	client *http.Client
}

func NewWebSearchHandler() *WebSearchHandler {
	return &WebSearchHandler{client: &http.Client{Timeout: webSearchTimeoutSecs * time.Second}}
}

func (*WebSearchHandler) ActionID() string { return "WEB.SEARCH.v1" }
func (*WebSearchHandler) Request() any     { return &WebSearchRequest{} }

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

func (h *WebSearchHandler) Execute(ctx context.Context, args map[string]any) *Result {
	query := argString(args, "query")
	if query == "" {
		return ErrorResult("WEB.SEARCH.v1", ErrInvalidInput, "query is required")
	}
	count := argInt(args, "count", webSearchDefaultN)

	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return ErrorResult("WEB.SEARCH.v1", ErrInvalidInput, err.Error())
	}
	req.Header.Set("User-Agent", webSearchUserAgent)

	client := h.client
	if client == nil {
		client = &http.Client{Timeout: webSearchTimeoutSecs * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ErrorResult("WEB.SEARCH.v1", ErrTimeout, "search request timed out")
		}
		return ErrorResult("WEB.SEARCH.v1", ErrTool, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrorResult("WEB.SEARCH.v1", ErrIO, err.Error())
	}

	results := extractDDGResults(string(body), count)
	if len(results) == 0 {
		return ErrorResult("WEB.SEARCH.v1", ErrEmptyOutput, "no results parsed")
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n%s\n%s\n\n", i+1, r.title, r.url, r.snippet)
	}
	return NewResult(strings.TrimSpace(sb.String()))
}

type searchHit struct {
	title, url, snippet string
}

func extractDDGResults(html string, count int) []searchHit {
	if count <= 0 {
		count = webSearchDefaultN
	}
	linkMatches := ddgLinkRe.FindAllStringSubmatch(html, count+5)
	snippetMatches := ddgSnippetRe.FindAllStringSubmatch(html, count+5)

	out := make([]searchHit, 0, len(linkMatches))
	for i, m := range linkMatches {
		if len(out) >= count {
			break
		}
		title := strings.TrimSpace(htmlTagRe.ReplaceAllString(m[2], ""))
		link := m[1]
		snippet := ""
		if i < len(snippetMatches) {
			snippet = strings.TrimSpace(htmlTagRe.ReplaceAllString(snippetMatches[i][1], ""))
		}
		out = append(out, searchHit{title: title, url: link, snippet: snippet})
	}
	return out
}
