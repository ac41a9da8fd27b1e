// Package websearch queries an external search provider for regulation
// evidence, restricted to official government domains.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/verityops/plandrift/pkg/schema"
)

// AllowedDomains is the closed list of official sources. Results outside
// these domains are discarded regardless of what the provider returns.
var AllowedDomains = []string{
	"irs.gov",
	"dol.gov",
	"federalregister.gov",
	"congress.gov",
	"ecfr.gov",
	"govinfo.gov",
}

// Config holds connection settings for the search provider. The provider
// is expected to expose a GET endpoint returning JSON results with title,
// url, and snippet fields (SearxNG-compatible).
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Searcher performs domain-restricted searches against the provider.
type Searcher struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a Searcher for the configured provider.
func New(cfg Config, logger *slog.Logger) *Searcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type providerResult struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// SearchOfficialSources queries the provider with a site-restricted query
// and returns at most maxResults links, all on allowed domains. Provider
// failures surface as errors; the caller decides the degradation policy.
func (s *Searcher) SearchOfficialSources(ctx context.Context, query string, maxResults int) ([]schema.Link, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	restricted := restrictQuery(query)

	endpoint, err := url.Parse(s.cfg.BaseURL + "/search")
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSearch, "invalid search endpoint: %s", err.Error())
	}
	q := endpoint.Query()
	q.Set("q", restricted)
	q.Set("format", "json")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSearch, "create search request: %s", err.Error())
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSearch, "search request failed: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSearch, "read search response: %s", err.Error()).WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, schema.NewErrorf(schema.ErrCodeSearch, "search provider returned %d", resp.StatusCode)
	}

	var parsed providerResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSearch, "decode search response: %s", err.Error()).WithCause(err)
	}

	links := make([]schema.Link, 0, maxResults)
	for _, r := range parsed.Results {
		if !onAllowedDomain(r.URL) {
			continue
		}
		title := r.Title
		if title == "" {
			title = "Official source"
		}
		links = append(links, schema.Link{
			Title:   title,
			URL:     r.URL,
			Snippet: r.Content,
		})
		if len(links) == maxResults {
			break
		}
	}

	s.logger.DebugContext(ctx, "official-source search", "returned", len(parsed.Results), "kept", len(links))
	return links, nil
}

// restrictQuery appends a site: filter for every allowed domain.
func restrictQuery(query string) string {
	filters := make([]string, len(AllowedDomains))
	for i, d := range AllowedDomains {
		filters[i] = fmt.Sprintf("site:%s", d)
	}
	return fmt.Sprintf("%s (%s)", query, strings.Join(filters, " OR "))
}

// onAllowedDomain reports whether the URL's host is an allowed domain or a
// subdomain of one. Substring checks are not enough: "irs.gov.example.com"
// must not pass.
func onAllowedDomain(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range AllowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
