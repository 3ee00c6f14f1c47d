package collab

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DefaultFetchTimeout bounds one content fetch.
const DefaultFetchTimeout = 20 * time.Second

// FetchConfig configures the HTTP content fetcher.
type FetchConfig struct {
	Timeout   time.Duration // 0 = DefaultFetchTimeout
	UserAgent string
	MaxBody   int64 // 0 = defaultMaxResponseBody
}

// HTTPFetchService implements ContentFetchService: it downloads a page
// and extracts title, headings, meta tags, visible text, and same-host
// links. Failures degrade to Success=false instead of erroring, so steps
// decide how a dead URL affects the run.
type HTTPFetchService struct {
	cfg    FetchConfig
	client *http.Client
}

// NewHTTPFetchService creates a content fetcher.
func NewHTTPFetchService(cfg FetchConfig) *HTTPFetchService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxResponseBody
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "relay-fetch/1.0"
	}
	return &HTTPFetchService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Fetch downloads and parses the page at rawURL.
func (s *HTTPFetchService) Fetch(ctx context.Context, rawURL string) (*PageContent, error) {
	failed := &PageContent{Success: false, Meta: map[string]string{}}

	base, err := url.Parse(rawURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return failed, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failed, nil
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return failed, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failed, nil
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, s.cfg.MaxBody))
	if err != nil {
		return failed, nil
	}

	page := &PageContent{Success: true, Meta: map[string]string{}}
	extractNode(doc, base, page)
	page.Content = strings.TrimSpace(page.Content)
	return page, nil
}

// extractNode walks the parsed tree collecting the page's structure.
func extractNode(n *html.Node, base *url.URL, page *PageContent) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "title":
			if page.Title == "" {
				page.Title = strings.TrimSpace(textContent(n))
			}
		case "h1", "h2", "h3":
			if h := strings.TrimSpace(textContent(n)); h != "" {
				page.Headings = append(page.Headings, h)
			}
		case "meta":
			name := attrValue(n, "name")
			if name == "" {
				name = attrValue(n, "property")
			}
			if content := attrValue(n, "content"); name != "" && content != "" {
				page.Meta[name] = content
			}
		case "a":
			if link := resolveLink(attrValue(n, "href"), base); link != "" {
				page.Links = append(page.Links, link)
			}
		case "script", "style", "noscript":
			return // skip non-content subtrees entirely
		}
	}
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			if page.Content != "" {
				page.Content += " "
			}
			page.Content += t
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractNode(c, base, page)
	}
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		} else {
			sb.WriteString(textContent(c))
		}
	}
	return sb.String()
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// resolveLink normalizes an href against the page URL, keeping only
// same-host http(s) links so the audit pipeline crawls inward.
func resolveLink(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := base.Parse(href)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host != base.Host {
		return ""
	}
	u.Fragment = ""
	return u.String()
}
