// Package config is the source of truth for persisted, per-installation
// settings. The document lives in a settings repository on GitHub and is
// written back with optimistic concurrency: the blob SHA read at load time
// is the revision token, and a write with a stale token is dropped for that
// debounce cycle.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"

	"gopkg.in/yaml.v3"
)

// ErrNotLoaded indicates the store was used before Load completed. This is a
// construction-order bug in the caller, not a runtime condition.
var ErrNotLoaded = errors.New("config not loaded")

// Default settings repository and document path. Overridable per store.
const (
	DefaultSettingsRepo = "probot-settings"
	DefaultSettingsPath = ".github/report.yml"

	// DefaultWriteDelay is the quiescence window: merges landing within it
	// coalesce into a single physical write.
	DefaultWriteDelay = 2 * time.Minute

	writeTimeout = 30 * time.Second
)

// DocumentStore abstracts the external store holding the settings document.
// *github.Client satisfies it.
type DocumentStore interface {
	ReadDocument(ctx context.Context, owner, repo, path string) (content []byte, sha string, err error)
	WriteDocument(ctx context.Context, owner, repo, path string, content []byte, sha string) (newSHA string, err error)
}

// Document is the per-installation settings document.
type Document struct {
	Users            map[string]types.User `yaml:"users"`
	IgnoreTitleRegex string                `yaml:"ignoreTitleRegex,omitempty"`
	ReportTimes      []string              `yaml:"reportTimes"`
	IgnoreLabels     []string              `yaml:"ignoreLabels,omitempty"`
	DaysUntilStale   int                   `yaml:"daysUntilStale"`
	DefaultTimezone  int                   `yaml:"defaultTimezone"`
}

// Defaults returns the built-in document used when the settings repo has no
// readable document. Report times are wall-clock "HH:MM" strings; the default
// timezone is a UTC offset in minutes.
func Defaults() Document {
	return Document{
		ReportTimes:     []string{"09:00", "12:30"},
		DaysUntilStale:  0,
		DefaultTimezone: -420,
		Users:           make(map[string]types.User),
	}
}

// Partial carries top-level fields to merge into the document. Nil pointers
// and nil slices leave the current value untouched.
type Partial struct {
	DaysUntilStale   *int
	DefaultTimezone  *int
	IgnoreTitleRegex *string
	ReportTimes      []string
	IgnoreLabels     []string
	Users            map[string]types.User
}

// UserPatch carries user-level fields to merge into users[login].
type UserPatch struct {
	Name      *string
	Email     *string
	SortOrder *string
	Enabled   *bool
	Timezone  *int
	Slack     *types.SlackBinding
}

// Store owns one installation's settings document. All revision-token and
// dirty state is per-instance so multiple installations never share state.
type Store struct {
	store      DocumentStore
	timer      *time.Timer
	doc        *Document
	owner      string
	repo       string
	path       string
	sha        string
	writeDelay time.Duration
	generation uint64
	mu         sync.Mutex
	dirty      bool
	writing    bool
	dryRun     bool
}

// Options tunes a Store. Zero values select the defaults above.
type Options struct {
	Repo       string
	Path       string
	WriteDelay time.Duration
	DryRun     bool
}

// New creates a config store for one installation account.
func New(store DocumentStore, owner string, opts Options) *Store {
	if opts.Repo == "" {
		opts.Repo = DefaultSettingsRepo
	}
	if opts.Path == "" {
		opts.Path = DefaultSettingsPath
	}
	if opts.WriteDelay <= 0 {
		opts.WriteDelay = DefaultWriteDelay
	}
	return &Store{
		store:      store,
		owner:      owner,
		repo:       opts.Repo,
		path:       opts.Path,
		writeDelay: opts.WriteDelay,
		dryRun:     opts.DryRun,
	}
}

// SettingsRepo returns the repository name the document is persisted in.
func (s *Store) SettingsRepo() string {
	return s.repo
}

// Load fetches the document from the store. Any read failure degrades to the
// built-in defaults with no revision token; the engine still starts.
func (s *Store) Load(ctx context.Context) error {
	slog.Info("Loading config", "component", "config", "owner", s.owner, "repo", s.repo, "path", s.path)

	doc := Defaults()
	content, sha, err := s.store.ReadDocument(ctx, s.owner, s.repo, s.path)
	if err != nil {
		slog.Warn("Could not read settings document, using defaults", "component", "config",
			"owner", s.owner, "repo", s.repo, "path", s.path, "error", err)
		sha = ""
	} else if err := yaml.Unmarshal(content, &doc); err != nil {
		slog.Warn("Malformed settings document, using defaults", "component", "config",
			"owner", s.owner, "error", err)
		doc = Defaults()
		sha = ""
	}
	// Keys in a hand-edited document may carry arbitrary casing; every
	// in-process lookup is by normalized login.
	users := make(map[string]types.User, len(doc.Users))
	for login, user := range doc.Users {
		login = types.NormalizeLogin(login)
		user.Login = login
		users[login] = user
	}
	doc.Users = users

	s.mu.Lock()
	s.doc = &doc
	s.sha = sha
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Get returns an immutable snapshot of the current document.
func (s *Store) Get() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return Document{}, ErrNotLoaded
	}
	return s.snapshotLocked(), nil
}

// snapshotLocked copies the document, including the users map. Callers hold s.mu.
func (s *Store) snapshotLocked() Document {
	snap := *s.doc
	snap.Users = make(map[string]types.User, len(s.doc.Users))
	for login, user := range s.doc.Users {
		snap.Users[login] = user
	}
	snap.ReportTimes = append([]string(nil), s.doc.ReportTimes...)
	snap.IgnoreLabels = append([]string(nil), s.doc.IgnoreLabels...)
	return snap
}

// Merge shallow-merges the given fields into the document, marks it dirty,
// and schedules a debounced write.
func (s *Store) Merge(partial Partial) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}

	if partial.DaysUntilStale != nil {
		s.doc.DaysUntilStale = *partial.DaysUntilStale
	}
	if partial.DefaultTimezone != nil {
		s.doc.DefaultTimezone = *partial.DefaultTimezone
	}
	if partial.IgnoreTitleRegex != nil {
		s.doc.IgnoreTitleRegex = *partial.IgnoreTitleRegex
	}
	if partial.ReportTimes != nil {
		s.doc.ReportTimes = append([]string(nil), partial.ReportTimes...)
	}
	if partial.IgnoreLabels != nil {
		s.doc.IgnoreLabels = append([]string(nil), partial.IgnoreLabels...)
	}
	for login, user := range partial.Users {
		s.doc.Users[types.NormalizeLogin(login)] = user
	}

	s.markDirtyLocked()
	s.mu.Unlock()
	return nil
}

// SetUser stores a complete user record under the normalized login.
func (s *Store) SetUser(user types.User) error {
	user.Login = types.NormalizeLogin(user.Login)
	return s.Merge(Partial{Users: map[string]types.User{user.Login: user}})
}

// MergeUser shallow-merges the patch into users[login]. An unknown login
// starts from a zero record.
func (s *Store) MergeUser(login string, patch UserPatch) error {
	login = types.NormalizeLogin(login)

	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}

	user := s.doc.Users[login]
	user.Login = login
	if patch.Name != nil {
		user.Name = *patch.Name
	}
	if patch.Email != nil {
		user.Email = *patch.Email
	}
	if patch.SortOrder != nil {
		user.SortOrder = *patch.SortOrder
	}
	if patch.Enabled != nil {
		user.Enabled = *patch.Enabled
	}
	if patch.Timezone != nil {
		user.Timezone = *patch.Timezone
	}
	if patch.Slack != nil {
		binding := *patch.Slack
		user.Slack = &binding
	}
	s.doc.Users[login] = user

	s.markDirtyLocked()
	s.mu.Unlock()
	return nil
}

// RemoveUser deletes a user record from the document.
func (s *Store) RemoveUser(login string) error {
	login = types.NormalizeLogin(login)

	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if _, ok := s.doc.Users[login]; ok {
		delete(s.doc.Users, login)
		s.markDirtyLocked()
	}
	s.mu.Unlock()
	return nil
}

// markDirtyLocked marks the document dirty and (re)arms the single-shot
// debounce timer. Callers hold s.mu.
func (s *Store) markDirtyLocked() {
	s.dirty = true
	s.generation++

	if s.dryRun {
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.writeDelay)
		return
	}
	s.timer = time.AfterFunc(s.writeDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.Flush(ctx); err != nil {
			slog.Warn("Debounced config write failed", "component", "config", "owner", s.owner, "error", err)
		}
	})
}

// Flush performs an immediate physical write if the document is dirty. In
// dry-run mode the write is skipped while in-memory state stays authoritative.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	if s.dryRun {
		slog.Debug("Config write skipped due to dry run", "component", "config", "owner", s.owner)
		s.mu.Unlock()
		return nil
	}
	if s.writing {
		// One physical write in flight at a time; the next debounce cycle
		// picks up whatever this one misses.
		s.mu.Unlock()
		return nil
	}

	content, err := yaml.Marshal(s.doc)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	sha := s.sha
	generation := s.generation
	s.writing = true
	s.mu.Unlock()

	newSHA, err := s.store.WriteDocument(ctx, s.owner, s.repo, s.path, content, sha)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writing = false
	if err != nil {
		// A stale revision token (or any other failure) drops this cycle;
		// the document stays dirty so a later merge retries with whatever
		// token we hold then. In-memory state remains authoritative.
		slog.Warn("Could not persist config, dropping this write cycle", "component", "config",
			"owner", s.owner, "error", err)
		return nil
	}
	s.sha = newSHA
	if s.generation == generation {
		s.dirty = false
	}
	slog.Info("Persisted config", "component", "config", "owner", s.owner, "revision", newSHA)
	return nil
}

// ReloadIfChanged reloads the document when an external event indicates its
// backing repository changed. Returns whether reloaded content differs from
// the last-known state, to let the caller recompute schedules.
func (s *Store) ReloadIfChanged(ctx context.Context, repo string) (bool, error) {
	if repo != s.repo {
		return false, nil
	}

	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return false, ErrNotLoaded
	}
	before, err := yaml.Marshal(s.doc)
	s.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := s.Load(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	after, err := yaml.Marshal(s.doc)
	s.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("failed to serialize config: %w", err)
	}

	return !bytes.Equal(before, after), nil
}

// Close cancels any pending debounced write without performing it.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
