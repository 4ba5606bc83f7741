package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// ErrDocumentNotFound indicates the settings document does not exist yet.
var ErrDocumentNotFound = errors.New("document not found")

// ErrDocumentConflict indicates a write was rejected because the expected
// revision (blob SHA) no longer matches the stored document.
var ErrDocumentConflict = errors.New("document revision conflict")

// ReadDocument fetches a file via the contents API and returns its decoded
// content together with the blob SHA, which serves as the optimistic
// concurrency token for WriteDocument.
func (c *Client) ReadDocument(ctx context.Context, owner, repo, path string) ([]byte, string, error) {
	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/contents/%s", owner, repo, path)
	resp, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s/%s:%s: %w", owner, repo, path, err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", ErrDocumentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to read %s/%s:%s (status %d)", owner, repo, path, resp.StatusCode)
	}

	var raw struct {
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, "", fmt.Errorf("failed to decode contents response: %w", err)
	}

	// The contents API wraps base64 at 60 columns.
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(raw.Content, "\n", ""))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode file content: %w", err)
	}

	return decoded, raw.SHA, nil
}

// WriteDocument creates or updates a file via the contents API. An empty sha
// creates the file; a non-empty sha must match the stored blob or the write
// fails with ErrDocumentConflict. Returns the new blob SHA on success.
func (c *Client) WriteDocument(ctx context.Context, owner, repo, path string, content []byte, sha string) (string, error) {
	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/contents/%s", owner, repo, path)

	payload := map[string]any{
		"message": "meta: update reminder settings",
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if sha != "" {
		payload["sha"] = sha
	}

	resp, err := c.doRequest(ctx, http.MethodPut, apiURL, payload)
	if err != nil {
		return "", fmt.Errorf("failed to write %s/%s:%s: %w", owner, repo, path, err)
	}
	defer drainAndCloseBody(resp.Body)

	// 409 means the sha no longer matches; 422 covers missing-sha updates.
	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity {
		slog.Warn("Document write rejected", "component", "api", "owner", owner, "repo", repo, "path", path, "status", resp.StatusCode)
		return "", ErrDocumentConflict
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("failed to write %s/%s:%s (status %d)", owner, repo, path, resp.StatusCode)
	}

	var raw struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("failed to decode write response: %w", err)
	}

	slog.Info("Persisted document", "component", "api", "owner", owner, "repo", repo, "path", path)
	return raw.Content.SHA, nil
}
