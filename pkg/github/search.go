package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// Search constants.
const (
	perPageLimit   = 100 // GitHub API per_page limit
	maxSearchPages = 5   // Hard cap on result pagination per query
)

// searchItem mirrors the issue-search result shape for pull requests.
type searchItem struct {
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	Title         string `json:"title"`
	HTMLURL       string `json:"html_url"`
	RepositoryURL string `json:"repository_url"`
	User          struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Number int  `json:"number"`
	Draft  bool `json:"draft"`
}

// SearchPullRequests runs an issue search and returns the matching pull
// requests. The query is passed verbatim (e.g. "is:pr is:open
// review-requested:alice org:acme"). Results are paginated up to a bounded
// number of pages.
func (c *Client) SearchPullRequests(ctx context.Context, query string) ([]types.PullRequest, error) {
	var all []types.PullRequest

	for page := 1; page <= maxSearchPages; page++ {
		apiURL := fmt.Sprintf("https://api.github.com/search/issues?q=%s&per_page=%d&page=%d",
			url.QueryEscape(query), perPageLimit, page)

		resp, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("search request failed: %w", err)
		}

		var result struct {
			Items      []searchItem `json:"items"`
			TotalCount int          `json:"total_count"`
		}
		if resp.StatusCode != http.StatusOK {
			drainAndCloseBody(resp.Body)
			return nil, fmt.Errorf("search failed (status %d)", resp.StatusCode)
		}
		err = json.NewDecoder(resp.Body).Decode(&result)
		drainAndCloseBody(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode search results: %w", err)
		}

		for i := range result.Items {
			all = append(all, itemToPullRequest(&result.Items[i]))
		}

		if len(result.Items) < perPageLimit {
			break
		}
	}

	slog.Debug("Search completed", "component", "api", "query", query, "results", len(all))
	return all, nil
}

// itemToPullRequest converts a search item into the shared PullRequest shape.
func itemToPullRequest(item *searchItem) types.PullRequest {
	createdAt, err := time.Parse(time.RFC3339, item.CreatedAt)
	if err != nil {
		slog.Warn("Failed to parse created_at time", "error", err)
		createdAt = time.Now()
	}
	updatedAt, err := time.Parse(time.RFC3339, item.UpdatedAt)
	if err != nil {
		slog.Warn("Failed to parse updated_at time", "error", err)
		updatedAt = time.Now()
	}

	labels := make([]string, 0, len(item.Labels))
	for _, label := range item.Labels {
		labels = append(labels, label.Name)
	}

	// repository_url has the form https://api.github.com/repos/owner/repo
	repo := item.RepositoryURL
	if idx := strings.Index(repo, "/repos/"); idx >= 0 {
		repo = repo[idx+len("/repos/"):]
	}

	return types.PullRequest{
		Number:     item.Number,
		Title:      item.Title,
		Author:     item.User.Login,
		Repository: repo,
		HTMLURL:    item.HTMLURL,
		Labels:     labels,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
		Draft:      item.Draft,
	}
}

// LastCommitTime returns the committer timestamp of the user's most recent
// commit, preserving the UTC offset the commit was authored in. A user with
// no commits returns the zero time and no error.
func (c *Client) LastCommitTime(ctx context.Context, login string) (time.Time, error) {
	query := "committer:" + types.NormalizeLogin(login)
	apiURL := fmt.Sprintf("https://api.github.com/search/commits?q=%s&sort=committer-date&order=desc&per_page=1",
		url.QueryEscape(query))

	resp, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("commit search failed: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("commit search failed (status %d)", resp.StatusCode)
	}

	var result struct {
		Items []struct {
			Commit struct {
				Committer struct {
					Date string `json:"date"`
				} `json:"committer"`
			} `json:"commit"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode commit search: %w", err)
	}

	if len(result.Items) == 0 {
		return time.Time{}, nil
	}

	// RFC3339 parsing keeps the offset in the returned time's location,
	// which is exactly what timezone derivation needs.
	committed, err := time.Parse(time.RFC3339, result.Items[0].Commit.Committer.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse committer date: %w", err)
	}
	return committed, nil
}
