package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/sprinkler/pkg/client"
)

const (
	eventChannelSize     = 100             // Buffer size for event channel
	eventDedupWindow     = 5 * time.Second // Time window for deduplicating events
	eventMapMaxSize      = 1000            // Maximum entries in event dedup map
	eventMapCleanupAge   = 1 * time.Hour   // Age threshold for cleaning up old entries
	pushMaxRetries       = 3
	pushMaxDelay         = 10 * time.Second
	maxReconnectAttempts = 100
	reconnectBackoff     = 30 * time.Second
)

// sprinklerMonitor subscribes to push events for one installation over a
// WebSocket and routes settings-repo changes to the installation's engine.
type sprinklerMonitor struct {
	bot          *Bot
	client       *client.Client
	eventChan    chan string
	lastEventMap map[string]time.Time
	stopChan     chan struct{}
	login        string
	mu           sync.RWMutex
	attempts     int
	isRunning    bool
	isStopped    bool
}

func newSprinklerMonitor(bot *Bot, login string) *sprinklerMonitor {
	return &sprinklerMonitor{
		bot:          bot,
		login:        login,
		eventChan:    make(chan string, eventChannelSize),
		lastEventMap: make(map[string]time.Time),
		stopChan:     make(chan struct{}),
	}
}

// start begins monitoring push events for this installation.
func (sm *sprinklerMonitor) start(ctx context.Context) error {
	sm.mu.Lock()
	if sm.isRunning {
		sm.mu.Unlock()
		return nil
	}
	sm.isRunning = true
	sm.isStopped = false
	sm.mu.Unlock()

	slog.Info("Starting event monitor", "component", "sprinkler", "installation", sm.login)

	go sm.processEvents(ctx)
	go sm.manageConnection(ctx)
	return nil
}

// manageConnection restarts the WebSocket client whenever its own internal
// reconnection gives up, with growing backoff between restarts.
func (sm *sprinklerMonitor) manageConnection(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		default:
		}

		sm.mu.RLock()
		stopped := sm.isStopped
		sm.mu.RUnlock()
		if stopped {
			return
		}

		err := sm.connect(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			sm.mu.Lock()
			sm.attempts = 0
			sm.mu.Unlock()
			if errors.Is(err, context.Canceled) {
				return
			}
			continue
		}

		sm.mu.Lock()
		sm.attempts++
		attempts := sm.attempts
		sm.mu.Unlock()
		if attempts >= maxReconnectAttempts {
			slog.Error("Max reconnection attempts reached, giving up",
				"component", "sprinkler", "installation", sm.login, "attempts", attempts)
			return
		}

		backoff := reconnectBackoff * time.Duration(attempts)
		if backoff > 5*time.Minute {
			backoff = 5 * time.Minute
		}
		slog.Warn("WebSocket client gave up, restarting after backoff",
			"component", "sprinkler", "installation", sm.login,
			"attempt", attempts, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case <-time.After(backoff):
		}
	}
}

// connect runs one WebSocket client session. Blocks until the client stops.
// The installation token is resolved fresh per session; an expired token
// surfaces as a session error and manageConnection restarts with a new one.
func (sm *sprinklerMonitor) connect(ctx context.Context) error {
	sm.bot.client.SetCurrentOrg(sm.login)
	token, err := sm.bot.client.Token(ctx)
	sm.bot.client.SetCurrentOrg("")
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}

	cfg := client.Config{
		ServerURL:    "wss://" + client.DefaultServerAddress + "/ws",
		Organization: sm.login,
		Token:        token,
		EventTypes:   []string{"push"},
		OnConnect: func() {
			slog.Info("WebSocket connected", "component", "sprinkler", "installation", sm.login)
		},
		OnDisconnect: func(err error) {
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("WebSocket disconnected", "component", "sprinkler", "installation", sm.login, "error", err)
			}
		},
		OnEvent: func(event client.Event) {
			sm.handleEvent(event)
		},
	}

	wsClient, err := client.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	sm.mu.Lock()
	sm.client = wsClient
	sm.mu.Unlock()

	if err := wsClient.Start(ctx); err != nil {
		return err
	}
	return nil
}

// handleEvent dedupes and enqueues one push event.
func (sm *sprinklerMonitor) handleEvent(event client.Event) {
	if event.Type != "push" || event.URL == "" {
		return
	}

	sm.mu.Lock()
	now := time.Now()
	if lastSeen, seen := sm.lastEventMap[event.URL]; seen && now.Sub(lastSeen) < eventDedupWindow {
		sm.mu.Unlock()
		return
	}
	sm.lastEventMap[event.URL] = now
	if len(sm.lastEventMap) > eventMapMaxSize {
		cutoff := now.Add(-eventMapCleanupAge)
		for url, seen := range sm.lastEventMap {
			if seen.Before(cutoff) {
				delete(sm.lastEventMap, url)
			}
		}
	}
	sm.mu.Unlock()

	select {
	case sm.eventChan <- event.URL:
	default:
		slog.Warn("Event channel full, dropping event", "component", "sprinkler", "url", event.URL)
	}
}

// processEvents routes queued push events to the installation's engine.
func (sm *sprinklerMonitor) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case url := <-sm.eventChan:
			sm.processEvent(ctx, url)
		}
	}
}

// processEvent notifies the engine of one push. Only pushes to the settings
// repo trigger a reload downstream; routing every push keeps this layer dumb.
func (sm *sprinklerMonitor) processEvent(ctx context.Context, url string) {
	owner, repo, err := parseRepoURL(url)
	if err != nil {
		slog.Warn("Failed to parse push URL", "component", "sprinkler", "url", url, "error", err)
		return
	}
	if !strings.EqualFold(owner, sm.login) {
		slog.Debug("Ignoring push for different installation", "component", "sprinkler",
			"event_owner", owner, "installation", sm.login)
		return
	}

	eng := sm.bot.registry.Engine(sm.login)
	if eng == nil {
		slog.Debug("No engine for installation, dropping push", "component", "sprinkler", "installation", sm.login)
		return
	}

	err = retry.Do(func() error {
		return eng.HandlePush(ctx, repo)
	},
		retry.Attempts(pushMaxRetries),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxDelay(pushMaxDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		slog.Error("Failed to handle push after retries", "component", "sprinkler",
			"installation", sm.login, "repo", repo, "error", err)
	}
}

// stop halts the monitor and closes its WebSocket.
func (sm *sprinklerMonitor) stop() {
	sm.mu.Lock()
	if !sm.isRunning {
		sm.mu.Unlock()
		return
	}
	sm.isRunning = false
	sm.isStopped = true
	sm.mu.Unlock()

	close(sm.stopChan)

	sm.mu.RLock()
	wsClient := sm.client
	sm.mu.RUnlock()
	if wsClient != nil {
		wsClient.Stop()
	}
	slog.Info("Event monitor stopped", "component", "sprinkler", "installation", sm.login)
}

// parseRepoURL extracts owner and repo from a GitHub URL such as
// https://github.com/owner/repo or https://github.com/owner/repo/commit/abc.
func parseRepoURL(url string) (owner, repo string, err error) {
	parts := strings.Split(url, "/")
	const minParts = 5
	if len(parts) < minParts || parts[2] != "github.com" {
		return "", "", fmt.Errorf("invalid GitHub URL format: %s", url)
	}
	return parts[3], parts[4], nil
}
