package github

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
)

func TestReadDocument(t *testing.T) {
	content := base64.StdEncoding.EncodeToString([]byte("reportTimes:\n  - \"09:00\"\n"))
	c := newTestClient(map[string]*http.Response{
		"GET https://api.github.com/repos/acme/probot-settings/contents/.github/report.yml": jsonResponse(200,
			`{"content":"`+content+`","sha":"abc123"}`),
	})

	data, sha, err := c.ReadDocument(context.Background(), "acme", "probot-settings", ".github/report.yml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sha != "abc123" {
		t.Errorf("expected sha abc123, got %q", sha)
	}
	if string(data) != "reportTimes:\n  - \"09:00\"\n" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestReadDocument_NotFound(t *testing.T) {
	c := newTestClient(nil)

	_, _, err := c.ReadDocument(context.Background(), "acme", "settings", "missing.yml")
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestWriteDocument(t *testing.T) {
	c := newTestClient(map[string]*http.Response{
		"PUT https://api.github.com/repos/acme/settings/contents/report.yml": jsonResponse(200,
			`{"content":{"sha":"def456"}}`),
	})

	sha, err := c.WriteDocument(context.Background(), "acme", "settings", "report.yml", []byte("users: {}\n"), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sha != "def456" {
		t.Errorf("expected new sha def456, got %q", sha)
	}
}

func TestWriteDocument_Conflict(t *testing.T) {
	c := newTestClient(map[string]*http.Response{
		"PUT https://api.github.com/repos/acme/settings/contents/report.yml": jsonResponse(409,
			`{"message":"is at abc but expected def"}`),
	})

	_, err := c.WriteDocument(context.Background(), "acme", "settings", "report.yml", []byte("users: {}\n"), "stale")
	if !errors.Is(err, ErrDocumentConflict) {
		t.Errorf("expected ErrDocumentConflict, got %v", err)
	}
}
