package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/cache"
	"github.com/codeGROOVE-dev/review-reminder/pkg/config"
	"github.com/codeGROOVE-dev/review-reminder/pkg/internal/testutil"
	"github.com/codeGROOVE-dev/review-reminder/pkg/ratelimit"
	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

func newTestGenerator(t *testing.T, gh *testutil.FakeGitHub, inst types.Installation) (*Generator, *config.Store) {
	t.Helper()
	cfg := config.New(testutil.NewDocStore(), inst.Login, config.Options{DryRun: true})
	if err := cfg.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(cfg.Close)
	g := New(gh, cfg, ratelimit.New(time.Millisecond), cache.NewFetcher(cache.New(time.Minute)), inst)
	return g, cfg
}

func pullAt(title string, created time.Time) types.PullRequest {
	return types.PullRequest{Title: title, CreatedAt: created, UpdatedAt: created, Repository: "acme/widgets"}
}

func TestReportForUserClassifiesAndScopes(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	now := time.Now()
	reviewQ := "is:pr is:open review-requested:alice org:acme"
	completeQ := "is:pr is:open reviewed-by:alice review:changes_requested org:acme"
	gh.SearchResults[reviewQ] = []types.PullRequest{pullAt("add parser", now)}
	gh.SearchResults[completeQ] = []types.PullRequest{pullAt("fix cache", now), pullAt("bump deps", now)}

	g, _ := newTestGenerator(t, gh, types.Installation{Login: "acme", Kind: types.KindOrganization})
	report := g.ReportForUser(context.Background(), types.User{Login: "alice"})

	if len(report.ToReview) != 1 || len(report.ToComplete) != 2 {
		t.Fatalf("got %d to review / %d to complete, want 1/2", len(report.ToReview), len(report.ToComplete))
	}
	if report.Empty() {
		t.Error("non-empty report classified as empty")
	}
	if report.Total() != 3 {
		t.Errorf("Total = %d, want 3", report.Total())
	}
}

func TestUserInstallationQueriesAreUnscoped(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	g, _ := newTestGenerator(t, gh, types.Installation{Login: "alice", Kind: types.KindUser})

	g.ReportForUser(context.Background(), types.User{Login: "alice"})

	for _, q := range gh.SearchCalls() {
		if containsOrgScope(q) {
			t.Errorf("user installation query carries org scope: %q", q)
		}
	}
	if len(gh.SearchCalls()) != 2 {
		t.Fatalf("issued %d queries, want 2", len(gh.SearchCalls()))
	}
}

func containsOrgScope(q string) bool {
	for i := 0; i+4 <= len(q); i++ {
		if q[i:i+4] == "org:" {
			return true
		}
	}
	return false
}

func TestEmptyReport(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	g, _ := newTestGenerator(t, gh, types.Installation{Login: "acme", Kind: types.KindOrganization})

	report := g.ReportForUser(context.Background(), types.User{Login: "alice"})
	if !report.Empty() {
		t.Error("report with no results should be empty")
	}
}

func TestSearchFailureYieldsEmptyLists(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	gh.SearchErr = errors.New("boom")
	g, _ := newTestGenerator(t, gh, types.Installation{Login: "acme", Kind: types.KindOrganization})

	report := g.ReportForUser(context.Background(), types.User{Login: "alice"})
	if !report.Empty() {
		t.Error("failed searches must produce an empty report, not an error")
	}
}

func TestSortOrder(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mid := old.AddDate(0, 0, 10)
	recent := old.AddDate(0, 0, 20)
	reviewQ := "is:pr is:open review-requested:alice org:acme"
	gh.SearchResults[reviewQ] = []types.PullRequest{pullAt("mid", mid), pullAt("recent", recent), pullAt("old", old)}

	g, _ := newTestGenerator(t, gh, types.Installation{Login: "acme", Kind: types.KindOrganization})

	asc := g.ReportForUser(context.Background(), types.User{Login: "alice", SortOrder: types.SortAscending})
	if asc.ToReview[0].Title != "old" || asc.ToReview[2].Title != "recent" {
		t.Errorf("ascending order wrong: %q, %q, %q", asc.ToReview[0].Title, asc.ToReview[1].Title, asc.ToReview[2].Title)
	}

	desc := g.ReportForUser(context.Background(), types.User{Login: "alice", SortOrder: types.SortDescending})
	if desc.ToReview[0].Title != "recent" || desc.ToReview[2].Title != "old" {
		t.Errorf("descending order wrong: %q, %q, %q", desc.ToReview[0].Title, desc.ToReview[1].Title, desc.ToReview[2].Title)
	}
}

func TestStalenessFilter(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	fresh := pullAt("fresh", now.AddDate(0, 0, -1))
	stale := pullAt("stale", now.AddDate(0, 0, -5))
	reviewQ := "is:pr is:open review-requested:alice org:acme"
	gh.SearchResults[reviewQ] = []types.PullRequest{fresh, stale}

	g, cfg := newTestGenerator(t, gh, types.Installation{Login: "acme", Kind: types.KindOrganization})
	g.now = func() time.Time { return now }

	days := 3
	if err := cfg.Merge(config.Partial{DaysUntilStale: &days}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	report := g.ReportForUser(context.Background(), types.User{Login: "alice"})
	if len(report.ToReview) != 1 || report.ToReview[0].Title != "stale" {
		t.Fatalf("staleness filter kept %v, want only the stale pull", titles(report.ToReview))
	}
}

func TestIgnoreRules(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	now := time.Now()
	wip := pullAt("WIP: new login flow", now)
	labeled := pullAt("refactor storage", now)
	labeled.Labels = []string{"on-hold"}
	clean := pullAt("fix flaky test", now)
	reviewQ := "is:pr is:open review-requested:alice org:acme"
	gh.SearchResults[reviewQ] = []types.PullRequest{wip, labeled, clean}

	g, cfg := newTestGenerator(t, gh, types.Installation{Login: "acme", Kind: types.KindOrganization})
	re := "^WIP"
	if err := cfg.Merge(config.Partial{IgnoreTitleRegex: &re, IgnoreLabels: []string{"on-hold"}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	report := g.ReportForUser(context.Background(), types.User{Login: "alice"})
	if len(report.ToReview) != 1 || report.ToReview[0].Title != "fix flaky test" {
		t.Fatalf("ignore rules kept %v, want only the clean pull", titles(report.ToReview))
	}
}

func TestInvalidIgnoreRegexIsSkipped(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	reviewQ := "is:pr is:open review-requested:alice org:acme"
	gh.SearchResults[reviewQ] = []types.PullRequest{pullAt("anything", time.Now())}

	g, cfg := newTestGenerator(t, gh, types.Installation{Login: "acme", Kind: types.KindOrganization})
	re := "([unclosed"
	if err := cfg.Merge(config.Partial{IgnoreTitleRegex: &re}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	report := g.ReportForUser(context.Background(), types.User{Login: "alice"})
	if len(report.ToReview) != 1 {
		t.Error("broken regex must disable the rule, not drop results")
	}
}

func TestRepeatedQueriesHitTheCache(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	g, _ := newTestGenerator(t, gh, types.Installation{Login: "acme", Kind: types.KindOrganization})

	user := types.User{Login: "alice"}
	g.ReportForUser(context.Background(), user)
	g.ReportForUser(context.Background(), user)

	if got := len(gh.SearchCalls()); got != 2 {
		t.Errorf("issued %d upstream searches for two generations, want 2 (cached)", got)
	}
}

func titles(pulls []types.PullRequest) []string {
	out := make([]string, len(pulls))
	for i, p := range pulls {
		out[i] = p.Title
	}
	return out
}
