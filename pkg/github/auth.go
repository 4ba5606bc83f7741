package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"

	"github.com/codeGROOVE-dev/gsm"
	"github.com/golang-jwt/jwt/v5"
)

// Authentication constants.
const (
	maxTokenLength   = 100 // Maximum expected length for GitHub tokens
	minTokenLength   = 40  // Minimum expected length for GitHub tokens
	maxAppID         = 999999999
	jwtLifetime      = 10 * time.Minute // GitHub Apps JWTs expire after 10 minutes max
	jwtRefreshMargin = 1 * time.Minute  // Regenerate this long before expiry
	filePermReadOnly = 0o400            // Read-only file permissions
	filePermOwnerRW  = 0o600            // Owner read-write file permissions
)

// generateJWT generates a JWT token for GitHub App authentication.
func generateJWT(appID string, privateKey []byte) (string, error) {
	block, _ := pem.Decode(privateKey)
	if block == nil {
		return "", errors.New("failed to parse PEM block containing the private key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS8 format if PKCS1 fails
		parsedKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		key, ok = parsedKey.(*rsa.PrivateKey)
		if !ok {
			return "", errors.New("private key is not RSA")
		}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(jwtLifetime).Unix(),
		"iss": appID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(key)
}

// newAppAuthClient creates a GitHub client with App authentication.
func newAppAuthClient(ctx context.Context, appID, appKeyPath string, httpTimeout time.Duration) (*Client, error) {
	creds, err := resolveAppCredentials(ctx, appID, appKeyPath)
	if err != nil {
		return nil, err
	}

	if err := validateAppID(creds.appID); err != nil {
		return nil, err
	}

	privateKey, err := loadPrivateKey(creds.privateKeyContent, creds.keyPath)
	if err != nil {
		return nil, err
	}

	jwtToken, err := generateJWT(creds.appID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}
	slog.Info("Generated JWT for GitHub App", "component", "auth", "app_id", creds.appID)

	return &Client{
		httpClient:         &http.Client{Timeout: httpTimeout},
		appID:              creds.appID,
		token:              jwtToken,
		tokenExpiry:        time.Now().Add(jwtLifetime),
		privateKeyContent:  privateKey,
		installationTokens: make(map[string]string),
		installationExpiry: make(map[string]time.Time),
		installationIDs:    make(map[string]int64),
		installationTypes:  make(map[string]string),
		isAppAuth:          true,
	}, nil
}

// newPersonalTokenClient creates a GitHub client with personal token authentication.
func newPersonalTokenClient(ctx context.Context, token string, httpTimeout time.Duration) (*Client, error) {
	// If no token provided, get it from gh CLI
	if token == "" {
		cmd := exec.CommandContext(ctx, "gh", "auth", "token")
		output, err := cmd.Output()
		if err != nil {
			return nil, fmt.Errorf("failed to get GitHub token: %w", err)
		}
		token = strings.TrimSpace(string(output))
	}

	if err := validateToken(token); err != nil {
		return nil, err
	}

	slog.Info("Using personal access token authentication", "component", "auth")

	return &Client{
		httpClient:         &http.Client{Timeout: httpTimeout},
		token:              token,
		installationTokens: make(map[string]string),
		installationExpiry: make(map[string]time.Time),
		installationIDs:    make(map[string]int64),
		installationTypes:  make(map[string]string),
		isAppAuth:          false,
	}, nil
}

// appCredentials holds GitHub App authentication details.
type appCredentials struct {
	appID             string
	keyPath           string
	privateKeyContent []byte
}

// resolveAppCredentials resolves app credentials from flags or environment
// variables. GITHUB_APP_KEY may hold either PEM key content or the name of a
// Google Secret Manager secret containing it.
func resolveAppCredentials(ctx context.Context, appID, appKeyPath string) (*appCredentials, error) {
	if appID == "" {
		appID = os.Getenv("GITHUB_APP_ID")
	}

	var privateKeyContent []byte
	if appKeyPath == "" {
		if keyContent := os.Getenv("GITHUB_APP_KEY"); keyContent != "" {
			if strings.Contains(keyContent, "PRIVATE KEY") {
				privateKeyContent = []byte(keyContent)
				slog.Info("Using GITHUB_APP_KEY environment variable", "component", "auth", "bytes", len(privateKeyContent))
			} else {
				secret, err := gsm.Secret(ctx, keyContent)
				if err != nil {
					return nil, fmt.Errorf("failed to fetch private key from Secret Manager: %w", err)
				}
				privateKeyContent = []byte(secret)
				slog.Info("Fetched private key from Secret Manager", "component", "auth", "secret", keyContent)
			}
		} else {
			appKeyPath = os.Getenv("GITHUB_APP_KEY_PATH")
		}
	}

	if appID == "" {
		return nil, errors.New("GitHub App ID is required. " +
			"Use --app-id flag or set GITHUB_APP_ID environment variable")
	}
	if len(privateKeyContent) == 0 && appKeyPath == "" {
		return nil, errors.New("GitHub App private key is required. " +
			"Use --app-key-path flag, set GITHUB_APP_KEY environment variable (key content), " +
			"or set GITHUB_APP_KEY_PATH environment variable (file path)")
	}

	return &appCredentials{
		appID:             appID,
		privateKeyContent: privateKeyContent,
		keyPath:           appKeyPath,
	}, nil
}

// validateAppID validates the GitHub App ID.
func validateAppID(appID string) error {
	appIDNum, err := strconv.Atoi(appID)
	if err != nil {
		return fmt.Errorf("GITHUB_APP_ID must be numeric: %w", err)
	}
	if appIDNum <= 0 || appIDNum > maxAppID {
		return errors.New("GITHUB_APP_ID out of valid range")
	}
	return nil
}

// loadPrivateKey loads the private key from content or file path.
func loadPrivateKey(privateKeyContent []byte, keyPath string) ([]byte, error) {
	var privateKey []byte
	var err error

	switch {
	case len(privateKeyContent) > 0:
		privateKey = privateKeyContent
	case keyPath != "":
		privateKey, err = readPrivateKeyFile(keyPath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("no private key provided (neither content nor path)")
	}

	if !bytes.Contains(privateKey, []byte("BEGIN RSA PRIVATE KEY")) &&
		!bytes.Contains(privateKey, []byte("BEGIN PRIVATE KEY")) {
		return nil, errors.New("private key does not appear to be a valid PEM private key")
	}

	return privateKey, nil
}

// readPrivateKeyFile reads and validates a private key file.
func readPrivateKeyFile(keyPath string) ([]byte, error) {
	// Validate and clean the private key path to prevent path traversal
	cleanPath := filepath.Clean(keyPath)
	if !filepath.IsAbs(cleanPath) {
		return nil, errors.New("GITHUB_APP_KEY_PATH must be an absolute path")
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("cannot access private key file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, errors.New("GITHUB_APP_KEY_PATH must be a file, not a directory")
	}

	// Check file permissions - must be exactly 0600 or 0400
	perm := fileInfo.Mode().Perm()
	if perm != filePermOwnerRW && perm != filePermReadOnly {
		return nil, fmt.Errorf("private key file has insecure permissions %04o (must be 0600 or 0400)", perm)
	}

	return os.ReadFile(cleanPath)
}

// validateToken validates a GitHub personal access token.
func validateToken(token string) error {
	if token == "" {
		return errors.New("no GitHub token found")
	}
	if len(token) > maxTokenLength || len(token) < minTokenLength {
		return errors.New("invalid token length")
	}
	return nil
}

// refreshJWTIfNeeded regenerates the app JWT when it is close to expiring.
func (c *Client) refreshJWTIfNeeded() error {
	if !c.isAppAuth {
		return nil
	}

	c.tokenMutex.RLock()
	expiry := c.tokenExpiry
	c.tokenMutex.RUnlock()
	if time.Until(expiry) > jwtRefreshMargin {
		return nil
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	// Double-check after lock upgrade
	if time.Until(c.tokenExpiry) > jwtRefreshMargin {
		return nil
	}

	jwtToken, err := generateJWT(c.appID, c.privateKeyContent)
	if err != nil {
		return fmt.Errorf("failed to regenerate JWT: %w", err)
	}
	c.token = jwtToken
	c.tokenExpiry = time.Now().Add(jwtLifetime)
	slog.Debug("Refreshed GitHub App JWT", "component", "auth")
	return nil
}

// Installations returns every account (organization or user) where the app is installed.
func (c *Client) Installations(ctx context.Context) ([]types.Installation, error) {
	if !c.isAppAuth {
		return nil, errors.New("app installations can only be listed with GitHub App authentication")
	}

	slog.Info("Fetching GitHub App installations", "component", "api")
	apiURL := "https://api.github.com/app/installations?per_page=100"
	resp, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get app installations: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list installations (status %d)", resp.StatusCode)
	}

	var raw []struct {
		Account struct {
			Login string `json:"login"`
			Type  string `json:"type"`
			ID    int64  `json:"id"`
		} `json:"account"`
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode installations: %w", err)
	}

	installations := make([]types.Installation, 0, len(raw))
	c.tokenMutex.Lock()
	for _, inst := range raw {
		installations = append(installations, types.Installation{
			ID:    inst.Account.ID,
			Login: inst.Account.Login,
			Kind:  inst.Account.Type,
		})
		// Store the installation ID and type for token creation later
		c.installationIDs[inst.Account.Login] = inst.ID
		c.installationTypes[inst.Account.Login] = inst.Account.Type
		slog.Info("Found installation", "component", "app", "account", inst.Account.Login, "kind", inst.Account.Type, "installation_id", inst.ID)
	}
	c.tokenMutex.Unlock()

	slog.Info("Listed installations", "component", "app", "count", len(installations))
	return installations, nil
}

// installationToken returns a cached or freshly created installation access token for an account.
func (c *Client) installationToken(ctx context.Context, org string) (string, error) {
	if !c.isAppAuth {
		return c.token, nil
	}
	if org == "" {
		return "", errors.New("organization name cannot be empty")
	}

	c.tokenMutex.RLock()
	if token, ok := c.installationTokens[org]; ok {
		if expiry, ok := c.installationExpiry[org]; ok && time.Now().Before(expiry) {
			c.tokenMutex.RUnlock()
			return token, nil
		}
	}
	c.tokenMutex.RUnlock()

	if err := c.refreshJWTIfNeeded(); err != nil {
		return "", fmt.Errorf("failed to refresh JWT: %w", err)
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()

	// Double-check cache after acquiring write lock
	if token, ok := c.installationTokens[org]; ok {
		if expiry, ok := c.installationExpiry[org]; ok && time.Now().Before(expiry) {
			return token, nil
		}
	}

	installationID, ok := c.installationIDs[org]
	if !ok {
		return "", fmt.Errorf("no installation ID found for account %s (is the app installed?)", org)
	}

	slog.Info("Creating installation access token", "component", "auth", "account", org, "installation_id", installationID)
	apiURL := fmt.Sprintf("https://api.github.com/app/installations/%d/access_tokens", installationID)

	// Use the app JWT for this request
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get installation token: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return "", fmt.Errorf("failed to create installation token (status %d) and read error: %w", resp.StatusCode, readErr)
		}
		return "", fmt.Errorf("failed to create installation token (status %d): %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		ExpiresAt time.Time `json:"expires_at"`
		Token     string    `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", errors.New("received empty installation token")
	}

	// Cache the token (expire 5 minutes before actual expiry for safety)
	c.installationTokens[org] = tokenResp.Token
	c.installationExpiry[org] = tokenResp.ExpiresAt.Add(-5 * time.Minute)

	slog.Info("Created installation access token", "component", "auth", "account", org, "expires_at", tokenResp.ExpiresAt.Format(time.RFC3339))
	return tokenResp.Token, nil
}
