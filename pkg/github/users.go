package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// OrgMembers enumerates all members of an organization.
func (c *Client) OrgMembers(ctx context.Context, org string) ([]types.RawUser, error) {
	var members []types.RawUser

	for page := 1; ; page++ {
		apiURL := fmt.Sprintf("https://api.github.com/orgs/%s/members?per_page=%d&page=%d", org, perPageLimit, page)
		resp, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list org members: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			drainAndCloseBody(resp.Body)
			return nil, fmt.Errorf("failed to list org members (status %d)", resp.StatusCode)
		}

		var raw []struct {
			Login string `json:"login"`
			Type  string `json:"type"`
			ID    int64  `json:"id"`
		}
		err = json.NewDecoder(resp.Body).Decode(&raw)
		drainAndCloseBody(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode org members: %w", err)
		}

		for _, m := range raw {
			members = append(members, types.RawUser{Login: m.Login, Type: m.Type, ID: m.ID})
		}

		if len(raw) < perPageLimit {
			break
		}
	}

	slog.Info("Listed organization members", "component", "api", "org", org, "count", len(members))
	return members, nil
}

// UserByID fetches a user's public profile by numeric ID.
func (c *Client) UserByID(ctx context.Context, id int64) (*types.Profile, error) {
	apiURL := fmt.Sprintf("https://api.github.com/user/%d", id)
	resp, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get user %d (status %d)", id, resp.StatusCode)
	}

	var raw struct {
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}

	return &types.Profile{Login: raw.Login, Name: raw.Name, Email: raw.Email}, nil
}
