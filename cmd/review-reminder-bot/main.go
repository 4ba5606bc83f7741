// Package main implements a GitHub App bot that sends scheduled pull request
// review reminders across all installed organizations and user accounts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/cache"
	"github.com/codeGROOVE-dev/review-reminder/pkg/config"
	"github.com/codeGROOVE-dev/review-reminder/pkg/engine"
	"github.com/codeGROOVE-dev/review-reminder/pkg/github"
	"github.com/codeGROOVE-dev/review-reminder/pkg/notify"
	"github.com/codeGROOVE-dev/review-reminder/pkg/ratelimit"
	"github.com/codeGROOVE-dev/review-reminder/pkg/types"

	"github.com/joho/godotenv"
)

var (
	// GitHub App authentication flags.
	appID      = flag.String("app-id", "", "GitHub App ID for authentication")
	appKeyPath = flag.String("app-key-path", "", "Path to GitHub App private key file")

	// Behavior flags.
	syncInterval = flag.Duration("sync-interval", 5*time.Minute, "Interval between installation sync cycles")
	writeDelay   = flag.Duration("write-delay", config.DefaultWriteDelay, "Quiescence window before persisting settings changes")
	dryRun       = flag.Bool("dry-run", false, "Run in dry-run mode (no settings writes)")

	searchBudget = flag.Int("search-budget", 30, "GitHub search calls per minute shared across installations")
	queryCache   = flag.Duration("query-cache", 2*time.Minute, "Cache duration for repeated search queries")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "GitHub App bot that sends scheduled review reminders across all installed organizations.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_ID       - GitHub App ID\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_KEY      - Private key PEM content, or Secret Manager secret name\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_KEY_PATH - Path to GitHub App private key file\n")
		fmt.Fprintf(os.Stderr, "  SLACK_TOKEN         - Slack bot token for chat delivery (optional)\n")
		fmt.Fprintf(os.Stderr, "  SMTP_ADDR           - SMTP host:port for mail delivery (optional)\n")
		fmt.Fprintf(os.Stderr, "  SMTP_FROM           - Sender address for mail delivery\n")
		fmt.Fprintf(os.Stderr, "  PORT                - HTTP server port (default: 8080)\n")
	}
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	effectiveAppID := *appID
	effectiveAppKey := *appKeyPath
	if effectiveAppID == "" {
		effectiveAppID = os.Getenv("GITHUB_APP_ID")
	}
	if effectiveAppKey == "" {
		effectiveAppKey = os.Getenv("GITHUB_APP_KEY_PATH")
	}
	if effectiveAppID == "" {
		slog.Error("GitHub App ID is required")
		slog.Info("Set via --app-id flag or GITHUB_APP_ID environment variable")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ghCfg := github.Config{
		UseAppAuth:  true,
		AppID:       effectiveAppID,
		AppKeyPath:  effectiveAppKey,
		HTTPTimeout: 30 * time.Second,
	}
	client, err := github.New(ctx, ghCfg)
	if err != nil {
		slog.Error("Failed to create GitHub client", "error", err)
		os.Exit(1)
	}

	dispatcher := notify.NewDispatcher()
	registerChannels(dispatcher)

	limiter := ratelimit.PerMinute(*searchBudget)
	fetcher := cache.NewFetcher(cache.New(*queryCache))
	metrics := &engine.Metrics{}

	// Each engine gets its own client so installation token state never
	// crosses between concurrently firing installations.
	factory := func(ctx context.Context, inst types.Installation) (engine.Deps, error) {
		orgClient, err := github.New(ctx, ghCfg)
		if err != nil {
			return engine.Deps{}, fmt.Errorf("failed to create client for %s: %w", inst.Login, err)
		}
		if _, err := orgClient.Installations(ctx); err != nil {
			return engine.Deps{}, fmt.Errorf("failed to resolve installations for %s: %w", inst.Login, err)
		}
		orgClient.SetCurrentOrg(inst.Login)
		return engine.Deps{
			GitHub:     orgClient,
			Docs:       orgClient,
			Limiter:    limiter,
			Fetcher:    fetcher,
			Dispatcher: dispatcher,
			Metrics:    metrics,
			ConfigOpts: config.Options{WriteDelay: *writeDelay, DryRun: *dryRun},
		}, nil
	}

	bot := &Bot{
		client:   client,
		registry: engine.NewRegistry(factory, metrics),
		metrics:  metrics,
		monitors: make(map[string]*sprinklerMonitor),
	}

	slog.Info("Starting in server mode", "sync_interval", *syncInterval, "dry_run", *dryRun)
	bot.run(ctx, *syncInterval)
}

// registerChannels wires the delivery transports that are configured in the
// environment. A bot with neither still runs; reports just go nowhere.
func registerChannels(dispatcher *notify.Dispatcher) {
	if token := os.Getenv("SLACK_TOKEN"); token != "" {
		dispatcher.Register(notify.NewChat(newSlackPoster(token)))
		slog.Info("Chat delivery enabled")
	}
	if addr := os.Getenv("SMTP_ADDR"); addr != "" {
		dispatcher.Register(notify.NewMail(newSMTPSender(addr, os.Getenv("SMTP_FROM"))))
		slog.Info("Mail delivery enabled", "addr", addr)
	}
}

// Bot reconciles installations and routes sprinkler events to engines.
type Bot struct {
	client   *github.Client
	registry *engine.Registry
	metrics  *engine.Metrics
	monitors map[string]*sprinklerMonitor
	mu       sync.Mutex
}

// run drives the sync loop until the context is cancelled, then tears every
// engine down so pending settings writes flush.
func (b *Bot) run(ctx context.Context, syncInterval time.Duration) {
	go b.startHealthServer(ctx, syncInterval)

	for {
		b.sync(ctx)

		timer := time.NewTimer(syncInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.shutdown()
			return
		case <-timer.C:
		}
	}
}

// sync lists current installations, reconciles the registry against them, and
// keeps one sprinkler monitor per installation.
func (b *Bot) sync(ctx context.Context) {
	start := time.Now()
	installations, err := b.client.Installations(ctx)
	if err != nil {
		slog.Error("Failed to list app installations", "error", err)
		return
	}

	b.registry.Sync(ctx, installations)
	b.syncMonitors(ctx, installations)

	slog.Info("Sync completed", "installations", b.registry.Count(), "duration", time.Since(start).Round(time.Millisecond))
}

// syncMonitors starts monitors for new installations and stops monitors for
// vanished ones.
func (b *Bot) syncMonitors(ctx context.Context, installations []types.Installation) {
	desired := make(map[string]bool, len(installations))
	for _, inst := range installations {
		desired[types.NormalizeLogin(inst.Login)] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for login, monitor := range b.monitors {
		if !desired[login] {
			slog.Info("Stopping monitor for removed installation", "installation", login)
			monitor.stop()
			delete(b.monitors, login)
		}
	}

	for login := range desired {
		if _, exists := b.monitors[login]; exists {
			continue
		}
		monitor := newSprinklerMonitor(b, login)
		if err := monitor.start(ctx); err != nil {
			slog.Error("Failed to start monitor", "installation", login, "error", err)
			continue
		}
		b.monitors[login] = monitor
	}
}

// shutdown stops monitors and tears all engines down with a bounded grace
// period for flushing config writes.
func (b *Bot) shutdown() {
	slog.Info("Shutting down")
	b.mu.Lock()
	for login, monitor := range b.monitors {
		monitor.stop()
		delete(b.monitors, login)
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	b.registry.Shutdown(ctx)
	slog.Info("Shutdown complete")
}

// startHealthServer serves the health endpoint used by the deployment probes.
func (b *Bot) startHealthServer(ctx context.Context, syncInterval time.Duration) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/_-_/health", func(w http.ResponseWriter, _ *http.Request) {
		lastSync := b.metrics.LastSync()

		status := "ok"
		statusCode := http.StatusOK
		if !lastSync.IsZero() && time.Since(lastSync) > 3*syncInterval {
			status = "stale"
			statusCode = http.StatusServiceUnavailable
		}

		response := fmt.Sprintf("%s - %d installations, %d reports generated, %d notifications sent (last sync: %s)\n",
			status, b.registry.Count(),
			b.metrics.ReportsGenerated.Load(), b.metrics.NotificationsSent.Load(),
			lastSync.Format(time.RFC3339))

		w.WriteHeader(statusCode)
		if _, err := w.Write([]byte(response)); err != nil {
			slog.Warn("Failed to write response", "error", err)
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Review Reminder Bot\n/_-_/health - Health status\n")); err != nil {
			slog.Warn("Failed to write response", "error", err)
		}
	})

	slog.Info("Starting health server", "port", port)
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Health server shutdown failed", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Health server failed", "error", err)
	}
}
