// Package fetch retrieves a lead's website over HTTP and reduces the HTML to
// readable text.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/shpitdev/leadsync/internal/enrich"
)

const (
	DefaultTimeout  = 60 * time.Second
	DefaultMaxBytes = 2 << 20
	userAgent       = "leadsync/1 (+https://github.com/shpitdev/leadsync)"
)

// Config configures a Fetcher.
type Config struct {
	Timeout  time.Duration
	MaxBytes int64
	// Client overrides the HTTP client (tests). Timeout is ignored when set.
	Client *http.Client
}

// Fetcher implements enrich.Fetcher.
type Fetcher struct {
	http     *http.Client
	maxBytes int64
}

var _ enrich.Fetcher = (*Fetcher)(nil)

func New(cfg Config) *Fetcher {
	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{http: hc, maxBytes: maxBytes}
}

// Fetch GETs rawURL and extracts the page title and visible body text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (enrich.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return enrich.Document{}, &enrich.FetchError{Kind: enrich.FetchNotReachable, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.http.Do(req)
	if err != nil {
		return enrich.Document{}, classify(rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return enrich.Document{}, &enrich.FetchError{
			Kind: enrich.FetchNotReachable,
			URL:  rawURL,
			Err:  fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return enrich.Document{}, classify(rawURL, err)
	}

	title, text := ExtractText(string(b))
	return enrich.Document{URL: resp.Request.URL.String(), Title: title, Text: text}, nil
}

func classify(rawURL string, err error) error {
	kind := enrich.FetchNotReachable
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = enrich.FetchTimeout
	}
	return &enrich.FetchError{Kind: kind, URL: rawURL, Err: err}
}

var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"head":     true,
}

// ExtractText returns the <title> and the whitespace-collapsed visible text of an
// HTML document. Non-HTML input comes back as its collapsed text.
func ExtractText(doc string) (title, text string) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", collapse(doc)
	}

	var parts []string
	var walk func(n *html.Node, inHead bool)
	walk = func(n *html.Node, inHead bool) {
		if n.Type == html.ElementNode {
			if n.Data == "title" && title == "" && n.FirstChild != nil {
				title = collapse(n.FirstChild.Data)
			}
			if skipped[n.Data] {
				if n.Data == "head" {
					for c := n.FirstChild; c != nil; c = c.NextSibling {
						walk(c, true)
					}
				}
				return
			}
		}
		if n.Type == html.TextNode && !inHead {
			if s := collapse(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inHead)
		}
	}
	walk(root, false)
	return title, strings.Join(parts, " ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
