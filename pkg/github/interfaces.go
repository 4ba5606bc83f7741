package github

import (
	"context"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// HTTPDoer provides an interface for making HTTP requests.
// This allows us to mock HTTP calls in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// API defines the GitHub operations the reminder engine consumes.
type API interface {
	// Authentication and configuration
	SetCurrentOrg(org string)
	Token(ctx context.Context) (string, error)

	// Installation operations
	Installations(ctx context.Context) ([]types.Installation, error)

	// Membership and identity operations
	OrgMembers(ctx context.Context, org string) ([]types.RawUser, error)
	UserByID(ctx context.Context, id int64) (*types.Profile, error)

	// Activity operations (timezone derivation)
	LastCommitTime(ctx context.Context, login string) (time.Time, error)

	// Search operations
	SearchPullRequests(ctx context.Context, query string) ([]types.PullRequest, error)

	// Document store operations (settings persistence)
	ReadDocument(ctx context.Context, owner, repo, path string) (content []byte, sha string, err error)
	WriteDocument(ctx context.Context, owner, repo, path string, content []byte, sha string) (newSHA string, err error)
}

var _ API = (*Client)(nil)
