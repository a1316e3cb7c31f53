package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-multierror"

	"github.com/etnz/debmeta/internal/log"
)

const defaultAPI = "https://api.github.com"

// Repo defines a GitHub repository to harvest packages from.
type Repo struct {
	Name  string
	Owner string
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// ParseRepo parses "owner/repo" or a repository URL such as
// "https://github.com/owner/repo".
func ParseRepo(s string) (Repo, error) {
	slug := strings.TrimSuffix(s, "/")
	if u, err := url.Parse(slug); err == nil && u.Host != "" {
		slug = strings.TrimPrefix(u.Path, "/")
	}
	slug = strings.TrimSuffix(slug, ".git")
	parts := strings.Split(slug, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("invalid repository %q, want owner/repo", s)
	}
	return Repo{Owner: parts[0], Name: parts[1]}, nil
}

type release struct {
	ID      int64   `json:"id"`
	TagName string  `json:"tag_name"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Client lists GitHub releases. The zero value uses the public API without
// authentication.
type Client struct {
	// HTTP is the client used for API calls; nil means a clean default client.
	HTTP *http.Client
	// Token, if set, is sent as the Authorization token.
	Token string
	// BaseURL overrides the API root, e.g. for GitHub Enterprise.
	BaseURL string
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return cleanhttp.DefaultClient()
}

func (c *Client) fetchReleases(ctx context.Context, r Repo) ([]release, error) {
	base := c.BaseURL
	if base == "" {
		base = defaultAPI
	}
	next := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=100", strings.TrimSuffix(base, "/"), r.Owner, r.Name)

	var releases []release
	for next != "" {
		page, link, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		releases = append(releases, page...)
		next = nextLink(link)
	}
	return releases, nil
}

func (c *Client) fetchPage(ctx context.Context, u string) ([]release, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "token "+c.Token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("GitHub API status %d", resp.StatusCode)
	}

	var releases []release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, "", fmt.Errorf("failed to decode releases: %w", err)
	}
	return releases, resp.Header.Get("Link"), nil
}

// nextLink returns the rel="next" target of a Link header, if any.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		target, params, ok := strings.Cut(strings.TrimSpace(part), ";")
		if !ok || !strings.Contains(params, `rel="next"`) {
			continue
		}
		return strings.Trim(strings.TrimSpace(target), "<>")
	}
	return ""
}

// FetchDebURLs scans a GitHub repository's Releases and returns the download URLs
// for all assets ending in ".deb".
func (c *Client) FetchDebURLs(ctx context.Context, r Repo) ([]string, error) {
	releases, err := c.fetchReleases(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to list releases of %s: %w", r, err)
	}
	var urls []string
	for _, rel := range releases {
		for _, asset := range rel.Assets {
			if strings.HasSuffix(asset.Name, ".deb") {
				urls = append(urls, asset.BrowserDownloadURL)
			}
		}
	}
	return urls, nil
}

// FetchAllDebs aggregates .deb download URLs from multiple GitHub repositories.
// A failing repository is skipped; its error is returned with the others.
func (c *Client) FetchAllDebs(ctx context.Context, projects []Repo) ([]string, error) {
	var urls []string
	var errs error
	for _, proj := range projects {
		log.Infof("scanning releases of %s", proj)
		u, err := c.FetchDebURLs(ctx, proj)
		if err != nil {
			log.Warnf("skipping %s: %v", proj, err)
			errs = multierror.Append(errs, err)
			continue
		}
		urls = append(urls, u...)
	}
	return urls, errs
}
