package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/corpus/internal/models"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound means the referenced page does not exist at the source.
	ErrNotFound = errors.New("page not found")
	// ErrForbidden means the source refused access to the page.
	ErrForbidden = errors.New("page access denied")
)

type SourceConfig struct {
	BaseURL        string
	RateLimit      float64 // requests per second
	Timeout        time.Duration
	IgnorePatterns []string
	Username       string
	Token          string
}

// Source fetches hierarchical documentation pages over HTTP and extracts
// the child links they reference.
type Source struct {
	config   SourceConfig
	client   *http.Client
	limiter  *rate.Limiter
	baseHost string
}

func NewWithConfig(config SourceConfig) (*Source, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	return &Source{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
	}, nil
}

// CanonicalURL normalizes a page reference so the same document always maps
// to the same key: anchor fragments are stripped and viewpage-style links
// collapse to their pageId form.
func (s *Source) CanonicalURL(ref string) string {
	ref = strings.SplitN(ref, "#", 2)[0]

	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}

	if strings.Contains(parsed.Path, "viewpage.action") {
		if pageID := parsed.Query().Get("pageId"); pageID != "" {
			base := strings.TrimSuffix(s.config.BaseURL, "/")
			return fmt.Sprintf("%s/pages/viewpage.action?pageId=%s", base, pageID)
		}
	}

	return strings.TrimSuffix(parsed.String(), "/")
}

// Fetch retrieves one page and resolves its canonical identity, title and
// child references. A 404 maps to ErrNotFound and a 401/403 to
// ErrForbidden so callers can tell missing pages from transport failures.
func (s *Source) Fetch(ctx context.Context, ref string) (*models.Document, error) {
	canonical := s.CanonicalURL(ref)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonical, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid page reference %q: %w", ref, err)
	}
	if s.config.Username != "" {
		req.SetBasicAuth(s.config.Username, s.config.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", canonical, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, canonical)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrForbidden, canonical)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, canonical)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", canonical, err)
	}
	markup := string(body)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", canonical, err)
	}

	return &models.Document{
		CanonicalID: s.canonicalID(canonical),
		URL:         canonical,
		Title:       pageTitle(doc),
		SpaceKey:    spaceKey(canonical),
		RawMarkup:   markup,
		ChildRefs:   s.childRefs(doc, canonical),
	}, nil
}

// canonicalID prefers the stable pageId when the URL carries one and falls
// back to the canonical URL itself.
func (s *Source) canonicalID(canonical string) string {
	parsed, err := url.Parse(canonical)
	if err != nil {
		return canonical
	}
	if pageID := parsed.Query().Get("pageId"); pageID != "" {
		return pageID
	}
	return canonical
}

func pageTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	return title
}

// spaceKey pulls the space/collection segment out of display- and
// spaces-style paths.
func spaceKey(canonical string) string {
	parsed, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, part := range parts {
		if (part == "display" || part == "spaces") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func (s *Source) childRefs(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var refs []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}

		linked, err := url.Parse(href)
		if err != nil {
			return
		}
		if !linked.IsAbs() {
			linked = base.ResolveReference(linked)
		}
		if linked.Host != s.baseHost {
			return
		}

		ref := s.CanonicalURL(linked.String())
		if ref == "" || ref == s.CanonicalURL(pageURL) || seen[ref] {
			return
		}
		for _, pattern := range s.config.IgnorePatterns {
			if strings.Contains(ref, pattern) {
				return
			}
		}

		seen[ref] = true
		refs = append(refs, ref)
	})

	return refs
}
