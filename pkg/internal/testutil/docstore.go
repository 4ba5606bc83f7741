// Package testutil provides programmable fakes for the external collaborators
// of the reminder engine. It's internal - only our own tests use it.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/codeGROOVE-dev/review-reminder/pkg/github"
)

// DocStore is an in-memory document store with the same optimistic
// concurrency semantics as the GitHub contents API: writes must present the
// current revision or fail with github.ErrDocumentConflict.
type DocStore struct {
	content  map[string][]byte
	revision map[string]string
	ReadErr  error
	WriteErr error
	mu       sync.Mutex
	reads    int
	writes   int
	nextRev  int
}

// NewDocStore creates an empty document store.
func NewDocStore() *DocStore {
	return &DocStore{
		content:  make(map[string][]byte),
		revision: make(map[string]string),
	}
}

func docKey(owner, repo, path string) string {
	return owner + "/" + repo + "/" + path
}

// Seed stores initial content for a document and returns its revision token.
func (d *DocStore) Seed(owner, repo, path string, content []byte) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := docKey(owner, repo, path)
	d.content[key] = content
	d.nextRev++
	rev := fmt.Sprintf("rev-%d", d.nextRev)
	d.revision[key] = rev
	return rev
}

// Bump replaces a document's revision token without going through a write,
// simulating an out-of-band change to the backing store.
func (d *DocStore) Bump(owner, repo, path string, content []byte) {
	d.Seed(owner, repo, path, content)
}

// ReadDocument implements config.DocumentStore.
func (d *DocStore) ReadDocument(_ context.Context, owner, repo, path string) ([]byte, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if d.ReadErr != nil {
		return nil, "", d.ReadErr
	}
	key := docKey(owner, repo, path)
	content, ok := d.content[key]
	if !ok {
		return nil, "", github.ErrDocumentNotFound
	}
	return append([]byte(nil), content...), d.revision[key], nil
}

// WriteDocument implements config.DocumentStore.
func (d *DocStore) WriteDocument(_ context.Context, owner, repo, path string, content []byte, sha string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	if d.WriteErr != nil {
		return "", d.WriteErr
	}
	key := docKey(owner, repo, path)
	if current, ok := d.revision[key]; ok && sha != current {
		return "", github.ErrDocumentConflict
	}
	if _, ok := d.revision[key]; !ok && sha != "" {
		return "", github.ErrDocumentConflict
	}
	d.content[key] = append([]byte(nil), content...)
	d.nextRev++
	rev := fmt.Sprintf("rev-%d", d.nextRev)
	d.revision[key] = rev
	return rev, nil
}

// Writes returns the number of physical writes performed.
func (d *DocStore) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// Content returns the currently stored bytes for a document.
func (d *DocStore) Content(owner, repo, path string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.content[docKey(owner, repo, path)]...)
}
