// Package main implements a CLI tool that prints the review reminder report
// for one user, the same report the bot would deliver on schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/cache"
	"github.com/codeGROOVE-dev/review-reminder/pkg/config"
	"github.com/codeGROOVE-dev/review-reminder/pkg/github"
	"github.com/codeGROOVE-dev/review-reminder/pkg/notify"
	"github.com/codeGROOVE-dev/review-reminder/pkg/ratelimit"
	"github.com/codeGROOVE-dev/review-reminder/pkg/report"
	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

var (
	account = flag.String("account", "", "Installation account (organization or user); defaults to the user")
	user    = flag.String("user", "", "GitHub login to build the report for")
	verbose = flag.Bool("v", false, "Verbose output with detailed diagnostics")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -user <login> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Prints the pull requests awaiting the user's review.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -user alice\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -account acme -user alice\n", os.Args[0])
	}
	flag.Parse()

	if *user == "" {
		flag.Usage()
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	login := types.NormalizeLogin(*user)
	owner := types.NormalizeLogin(*account)
	inst := types.Installation{Login: owner, Kind: types.KindOrganization}
	if owner == "" || owner == login {
		owner = login
		inst = types.Installation{Login: login, Kind: types.KindUser}
	}

	client, err := github.New(ctx, github.Config{
		Token:       os.Getenv("GITHUB_TOKEN"),
		HTTPTimeout: 30 * time.Second,
	})
	if err != nil {
		slog.Error("Failed to create GitHub client", "error", err)
		slog.Info("Set GITHUB_TOKEN or authenticate the gh CLI (run: gh auth login)")
		os.Exit(1)
	}

	// Read-only: the CLI never writes settings back.
	cfg := config.New(client, owner, config.Options{DryRun: true})
	if err := cfg.Load(ctx); err != nil {
		slog.Error("Failed to load settings", "error", err)
		os.Exit(1)
	}
	defer cfg.Close()

	doc, err := cfg.Get()
	if err != nil {
		slog.Error("Failed to read settings", "error", err)
		os.Exit(1)
	}
	userRecord, known := doc.Users[login]
	if !known {
		userRecord = types.User{Login: login, SortOrder: types.SortAscending, Enabled: true}
	}

	gen := report.New(client, cfg, ratelimit.PerMinute(30), cache.NewFetcher(cache.New(time.Minute)), inst)
	result := gen.ReportForUser(ctx, userRecord)

	if result.Empty() {
		fmt.Printf("Nothing awaiting review for %s.\n", login)
		return
	}
	fmt.Println(notify.FormatText(result))
}
