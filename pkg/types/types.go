// Package types contains shared data structures used across the reminder system.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Installation target kinds as reported by the GitHub API.
const (
	KindOrganization = "Organization"
	KindUser         = "User"
)

// Installation identifies one org or user account the app is installed on.
// Immutable after creation.
type Installation struct {
	Login string
	Kind  string // "Organization" or "User"
	ID    int64
}

// PullRequest represents a pull request as returned by the search API.
type PullRequest struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Title      string
	Author     string
	Repository string // "owner/repo"
	HTMLURL    string
	Labels     []string
	Number     int
	Draft      bool
}

// SlackBinding links a user to a chat destination.
type SlackBinding struct {
	User    string `yaml:"user,omitempty"`
	Channel string `yaml:"channel,omitempty"`
	Active  bool   `yaml:"active"`
}

// Sort orders for report lists.
const (
	SortAscending  = "asc"
	SortDescending = "desc"
)

// User is one subscribed member of an installation. Login is the unique key
// and is always stored lower-cased. Timezone is a UTC offset in minutes,
// derived once from commit activity and then cached in the config document.
type User struct {
	Login     string        `yaml:"login"`
	Name      string        `yaml:"name,omitempty"`
	Email     string        `yaml:"email,omitempty"`
	SortOrder string        `yaml:"sortOrder,omitempty"`
	Slack     *SlackBinding `yaml:"slack,omitempty"`
	ID        int64         `yaml:"id"`
	Timezone  int           `yaml:"timezone"`
	Enabled   bool          `yaml:"enabled"`
}

// UnmarshalYAML decodes a user record, defaulting Enabled to true when the
// document omits it. A hand-edited entry without an enabled key must not
// silently disable the member.
func (u *User) UnmarshalYAML(value *yaml.Node) error {
	type plain User
	p := plain{Enabled: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*u = User(p)
	return nil
}

// NormalizeLogin lower-cases a login for use as a map key. Every path that
// keys on a login goes through this to avoid duplicate records for one member.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// RawUser is a member as observed from the membership source before a User
// record exists for it.
type RawUser struct {
	Login string
	Type  string // "User", "Bot", "Organization"
	ID    int64
}

// Profile holds the details fetched for a user from the identity source.
type Profile struct {
	Login string
	Name  string
	Email string
}

// Report is the transient output of one generation cycle for one user.
// Both lists are sorted by creation time per the user's sort order.
type Report struct {
	User       User
	ToReview   []PullRequest
	ToComplete []PullRequest
}

// Empty reports must suppress delivery entirely.
func (r *Report) Empty() bool {
	return len(r.ToReview) == 0 && len(r.ToComplete) == 0
}

// Total returns the number of pull requests across all lists.
func (r *Report) Total() int {
	return len(r.ToReview) + len(r.ToComplete)
}
