// Package duckduckgo implements search.Provider against the DuckDuckGo HTML
// endpoint.
package duckduckgo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/hupe1980/memorymesh/search"
)

// DefaultEndpoint is the no-JavaScript result page.
const DefaultEndpoint = "https://html.duckduckgo.com/html/"

// Options configure a Provider.
type Options struct {
	Endpoint  string
	UserAgent string
	Region    string
	// RatePerSecond throttles outgoing requests. Zero disables the limiter.
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// Provider queries DuckDuckGo and scrapes the result list.
type Provider struct {
	opts    Options
	limiter *rate.Limiter
}

// New creates a Provider.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Endpoint:      DefaultEndpoint,
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
		Region:        "wt-wt",
		RatePerSecond: 1,
		Burst:         3,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	p := &Provider{opts: opts}
	if opts.RatePerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(opts.Burst, 1))
	}
	return p
}

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	form := url.Values{"q": {query}, "kl": {p.opts.Region}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", p.opts.UserAgent)

	resp, err := p.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", search.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("search request: unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}
	return parseResults(doc, maxResults), nil
}

func parseResults(doc *html.Node, maxResults int) []search.Result {
	var out []search.Result

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if maxResults > 0 && len(out) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if r, ok := parseResult(n); ok {
				out = append(out, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	return out
}

func parseResult(n *html.Node) (search.Result, bool) {
	var r search.Result

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				r.Title = strings.TrimSpace(nodeText(n))
				r.URL = resolveLink(attr(n, "href"))
				return
			case hasClass(n, "result__snippet"):
				r.Snippet = strings.TrimSpace(nodeText(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)

	return r, r.URL != ""
}

// resolveLink unwraps DuckDuckGo redirect links (//duckduckgo.com/l/?uddg=...).
func resolveLink(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
