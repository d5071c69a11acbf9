package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"aide/internal/cache"
	"aide/internal/events"
	"aide/internal/security"
)

const (
	fetchTimeout     = 15 * time.Second
	fetchUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	fetchMaxPlain    = 10000
	fetchMaxHTML     = 8000
	fetchMaxBodySize = 5 << 20
)

// FetchTool retrieves web content. HTML is reduced to readable text;
// private-network and non-HTTP targets are refused before any request goes
// out.
type FetchTool struct {
	classifier *security.URLClassifier
	urlCache   *cache.URLCache
	client     *http.Client
}

func NewFetchTool(classifier *security.URLClassifier, urlCache *cache.URLCache) *FetchTool {
	return &FetchTool{
		classifier: classifier,
		urlCache:   urlCache,
		client:     &http.Client{Timeout: fetchTimeout},
	}
}

func (t *FetchTool) Name() string { return "fetch_url" }

func (t *FetchTool) Description() string {
	return "Fetch the content of a web page or API endpoint. HTML pages are converted to readable text."
}

func (t *FetchTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"url": map[string]any{
			"type":        "string",
			"description": "The http(s) URL to fetch",
		},
	}, "url")
}

func (t *FetchTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	url := strings.TrimSpace(stringArg(args, "url"))
	if url == "" {
		return "", errors.New("url is required")
	}

	switch t.classifier.Classify(url) {
	case security.RiskBlocked:
		return fmt.Sprintf("⛔ Blocked: URL '%s' uses a forbidden scheme or targets this server.", url), nil
	case security.RiskDangerous:
		return fmt.Sprintf("⛔ Blocked: URL '%s' resolves to a private or internal address.", url), nil
	}

	if t.urlCache != nil {
		if cached, ok := t.urlCache.Get(url); ok {
			return events.CacheHitPrefix + " " + cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodySize))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	content := renderBody(resp.Header.Get("Content-Type"), body)
	if resp.StatusCode >= 400 {
		content = fmt.Sprintf("[HTTP %d]\n%s", resp.StatusCode, content)
	}
	if t.urlCache != nil && resp.StatusCode < 400 {
		t.urlCache.Set(url, content)
	}
	return content, nil
}

func renderBody(contentType string, body []byte) string {
	if strings.Contains(contentType, "text/html") {
		return htmlToText(body)
	}
	// JSON and plain text pass through with a length cap.
	return truncateWithNote(strings.TrimSpace(string(body)), fetchMaxPlain)
}

// htmlToText strips scripts and styles and flattens the document to text
// with blank lines between blocks.
func htmlToText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return truncateWithNote(string(body), fetchMaxHTML)
	}
	doc.Find("script, style, noscript, iframe").Remove()

	var blocks []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		blocks = append(blocks, "# "+title)
	}
	doc.Find("h1, h2, h3, h4, p, li, pre, td, th").Each(func(_ int, sel *goquery.Selection) {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text != "" {
			blocks = append(blocks, text)
		}
	})
	text := strings.Join(blocks, "\n\n")
	if text == "" {
		text = strings.Join(strings.Fields(doc.Text()), " ")
	}
	return truncateWithNote(text, fetchMaxHTML)
}

func truncateWithNote(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n\n...[content truncated]"
}
