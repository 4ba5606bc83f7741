package report

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/cache"
	"github.com/codeGROOVE-dev/review-reminder/pkg/config"
	"github.com/codeGROOVE-dev/review-reminder/pkg/ratelimit"
	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

const (
	// queryTimeout bounds one search call including its wait in the
	// limiter queue.
	queryTimeout = 60 * time.Second

	// queryTTL keeps repeated identical searches (several users sharing a
	// report time, retriggered reloads) from burning rate budget.
	queryTTL = 2 * time.Minute
)

// SearchSource issues one search query. *github.Client satisfies it.
type SearchSource interface {
	SearchPullRequests(ctx context.Context, query string) ([]types.PullRequest, error)
}

// Generator produces reports for one installation. The limiter and fetcher
// are shared process-wide so the search budget holds across installations.
type Generator struct {
	search  SearchSource
	cfg     *config.Store
	limiter *ratelimit.Limiter
	fetcher *cache.Fetcher
	inst    types.Installation
	now     func() time.Time
}

// New creates a generator for one installation.
func New(search SearchSource, cfg *config.Store, limiter *ratelimit.Limiter, fetcher *cache.Fetcher, inst types.Installation) *Generator {
	return &Generator{
		search:  search,
		cfg:     cfg,
		limiter: limiter,
		fetcher: fetcher,
		inst:    inst,
		now:     time.Now,
	}
}

// ReportForUser assembles the user's report: pulls awaiting their review and
// pulls they already reviewed that still need changes completed. A failed
// query contributes an empty list; failures never propagate to the trigger.
func (g *Generator) ReportForUser(ctx context.Context, user types.User) types.Report {
	doc, err := g.cfg.Get()
	if err != nil {
		slog.Error("Config not available for report generation", "component", "report",
			"user", user.Login, "error", err)
		doc = config.Defaults()
	}

	scope := ""
	if g.inst.Kind == types.KindOrganization {
		scope = fmt.Sprintf(" org:%s", g.inst.Login)
	}

	toReview := g.query(ctx, user.Login,
		fmt.Sprintf("is:pr is:open review-requested:%s%s", user.Login, scope))
	toComplete := g.query(ctx, user.Login,
		fmt.Sprintf("is:pr is:open reviewed-by:%s review:changes_requested%s", user.Login, scope))

	toReview = g.filter(toReview, doc)
	toComplete = g.filter(toComplete, doc)
	sortPulls(toReview, user.SortOrder)
	sortPulls(toComplete, user.SortOrder)

	report := types.Report{User: user, ToReview: toReview, ToComplete: toComplete}
	slog.Info("Generated report", "component", "report", "user", user.Login,
		"to_review", len(toReview), "to_complete", len(toComplete), "empty", report.Empty())
	return report
}

// query runs one search through the cached, rate-limited path.
func (g *Generator) query(ctx context.Context, login, q string) []types.PullRequest {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	value, err := g.fetcher.Fetch(ctx, q, queryTTL, func(ctx context.Context) (any, error) {
		var pulls []types.PullRequest
		err := g.limiter.Do(ctx, func() error {
			var searchErr error
			pulls, searchErr = g.search.SearchPullRequests(ctx, q)
			return searchErr
		})
		return pulls, err
	})
	if err != nil {
		slog.Warn("Search failed, treating as empty", "component", "report",
			"user", login, "query", q, "error", err)
		return nil
	}
	pulls, ok := value.([]types.PullRequest)
	if !ok {
		slog.Error("Unexpected cached value type for query", "component", "report", "query", q)
		return nil
	}
	return pulls
}

// filter drops pulls matching the installation's ignore rules and, when a
// staleness threshold is set, pulls modified more recently than the threshold.
func (g *Generator) filter(pulls []types.PullRequest, doc config.Document) []types.PullRequest {
	var titleRe *regexp.Regexp
	if doc.IgnoreTitleRegex != "" {
		re, err := regexp.Compile(doc.IgnoreTitleRegex)
		if err != nil {
			slog.Warn("Invalid ignore title regex, rule skipped", "component", "report",
				"regex", doc.IgnoreTitleRegex, "error", err)
		} else {
			titleRe = re
		}
	}

	ignored := make(map[string]bool, len(doc.IgnoreLabels))
	for _, label := range doc.IgnoreLabels {
		ignored[label] = true
	}

	cutoff := time.Time{}
	if doc.DaysUntilStale > 0 {
		cutoff = g.now().AddDate(0, 0, -doc.DaysUntilStale)
	}

	kept := pulls[:0:0]
	for _, pull := range pulls {
		if titleRe != nil && titleRe.MatchString(pull.Title) {
			continue
		}
		if hasIgnoredLabel(pull, ignored) {
			continue
		}
		if !cutoff.IsZero() && pull.UpdatedAt.After(cutoff) {
			continue
		}
		kept = append(kept, pull)
	}
	return kept
}

func hasIgnoredLabel(pull types.PullRequest, ignored map[string]bool) bool {
	for _, label := range pull.Labels {
		if ignored[label] {
			return true
		}
	}
	return false
}
