package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// FakeGitHub is a programmable stand-in for the GitHub collaborator
// interfaces consumed by the scheduler and report generator.
type FakeGitHub struct {
	Members       map[string][]types.RawUser
	Profiles      map[int64]types.Profile
	LastCommits   map[string]time.Time
	SearchResults map[string][]types.PullRequest
	SearchErr     error
	ProfileErr    error
	CommitErr     error
	searchCalls   []string
	mu            sync.Mutex
}

// NewFakeGitHub creates an empty fake.
func NewFakeGitHub() *FakeGitHub {
	return &FakeGitHub{
		Members:       make(map[string][]types.RawUser),
		Profiles:      make(map[int64]types.Profile),
		LastCommits:   make(map[string]time.Time),
		SearchResults: make(map[string][]types.PullRequest),
	}
}

// OrgMembers implements the membership source.
func (f *FakeGitHub) OrgMembers(_ context.Context, org string) ([]types.RawUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.RawUser(nil), f.Members[org]...), nil
}

// UserByID implements the identity source.
func (f *FakeGitHub) UserByID(_ context.Context, id int64) (*types.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ProfileErr != nil {
		return nil, f.ProfileErr
	}
	profile := f.Profiles[id]
	return &profile, nil
}

// LastCommitTime implements the activity source.
func (f *FakeGitHub) LastCommitTime(_ context.Context, login string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommitErr != nil {
		return time.Time{}, f.CommitErr
	}
	return f.LastCommits[types.NormalizeLogin(login)], nil
}

// SearchPullRequests implements the search source.
func (f *FakeGitHub) SearchPullRequests(_ context.Context, query string) ([]types.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls = append(f.searchCalls, query)
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	return append([]types.PullRequest(nil), f.SearchResults[query]...), nil
}

// SearchCalls returns every query issued so far.
func (f *FakeGitHub) SearchCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.searchCalls...)
}
