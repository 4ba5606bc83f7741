package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/config"
	"github.com/codeGROOVE-dev/review-reminder/pkg/internal/testutil"
	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

func newTestScheduler(t *testing.T, gh *testutil.FakeGitHub) (*Scheduler, *config.Store) {
	t.Helper()
	cfg := config.New(testutil.NewDocStore(), "acme", config.Options{DryRun: true})
	if err := cfg.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := New(cfg, gh, gh, func(types.User) {})
	s.loc = time.UTC
	t.Cleanup(func() {
		s.Stop()
		cfg.Close()
	})
	return s, cfg
}

func TestAddUserSchedulesOneTriggerPerReportTime(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	gh.Profiles[7] = types.Profile{Login: "alice", Name: "Alice", Email: "alice@example.com"}
	gh.LastCommits["alice"] = time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("", -7*3600))
	s, cfg := newTestScheduler(t, gh)

	if err := s.AddUser(context.Background(), types.RawUser{Login: "Alice", Type: types.KindUser, ID: 7}, true); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	if got := s.TriggerCount("alice"); got != 2 {
		t.Errorf("TriggerCount = %d, want 2 (one per default report time)", got)
	}

	doc, err := cfg.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	user, ok := doc.Users["alice"]
	if !ok {
		t.Fatal("user not persisted under lowercase login")
	}
	if user.Timezone != -420 {
		t.Errorf("Timezone = %d, want -420 (from last commit offset)", user.Timezone)
	}
	if user.Name != "Alice" || user.Email != "alice@example.com" {
		t.Errorf("profile not applied: %+v", user)
	}
	if !user.Enabled {
		t.Error("new user should be enabled")
	}
}

func TestAddUserIgnoresNonHumanPrincipals(t *testing.T) {
	s, _ := newTestScheduler(t, testutil.NewFakeGitHub())

	if err := s.AddUser(context.Background(), types.RawUser{Login: "deploy[bot]", Type: "Bot", ID: 1}, true); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if got := len(s.Users()); got != 0 {
		t.Errorf("tracked %d users, want 0", got)
	}
}

func TestAddUserIsIdempotent(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	gh.Profiles[7] = types.Profile{Login: "alice"}
	s, _ := newTestScheduler(t, gh)

	raw := types.RawUser{Login: "alice", Type: types.KindUser, ID: 7}
	for range 3 {
		if err := s.AddUser(context.Background(), raw, true); err != nil {
			t.Fatalf("AddUser: %v", err)
		}
	}
	if got := s.TriggerCount("alice"); got != 2 {
		t.Errorf("TriggerCount = %d after repeated adds, want 2", got)
	}
}

func TestAddUserReusesCachedRecord(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	s, cfg := newTestScheduler(t, gh)

	cached := types.User{Login: "bob", Name: "Bob", Timezone: 60, SortOrder: types.SortDescending, Enabled: true}
	if err := cfg.SetUser(cached); err != nil {
		t.Fatalf("SetUser: %v", err)
	}

	// No profile or commit data configured: a derivation attempt would
	// produce a different record, so success proves the cache was used.
	if err := s.AddUser(context.Background(), types.RawUser{Login: "bob", Type: types.KindUser, ID: 9}, true); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	s.mu.Lock()
	got := s.users["bob"]
	s.mu.Unlock()
	if got.Name != "Bob" || got.Timezone != 60 || got.SortOrder != types.SortDescending {
		t.Errorf("cached record not reused: %+v", got)
	}
}

func TestDisabledUserGetsNoTriggers(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	s, cfg := newTestScheduler(t, gh)

	if err := cfg.SetUser(types.User{Login: "carol", Enabled: false}); err != nil {
		t.Fatalf("SetUser: %v", err)
	}
	if err := s.AddUser(context.Background(), types.RawUser{Login: "carol", Type: types.KindUser, ID: 3}, true); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	if got := s.TriggerCount("carol"); got != 0 {
		t.Errorf("TriggerCount = %d for disabled user, want 0", got)
	}
	if got := len(s.Users()); got != 1 {
		t.Errorf("disabled user should still be tracked, got %d users", got)
	}
}

func TestRemoveUserCancelsOnlyOwnTriggers(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	gh.Profiles[1] = types.Profile{Login: "alice"}
	gh.Profiles[2] = types.Profile{Login: "bob"}
	s, _ := newTestScheduler(t, gh)

	ctx := context.Background()
	if err := s.AddUser(ctx, types.RawUser{Login: "alice", Type: types.KindUser, ID: 1}, true); err != nil {
		t.Fatalf("AddUser alice: %v", err)
	}
	if err := s.AddUser(ctx, types.RawUser{Login: "bob", Type: types.KindUser, ID: 2}, true); err != nil {
		t.Fatalf("AddUser bob: %v", err)
	}

	s.RemoveUser("Alice")

	if got := s.TriggerCount("alice"); got != 0 {
		t.Errorf("alice TriggerCount = %d after removal, want 0", got)
	}
	if got := s.TriggerCount("bob"); got != 2 {
		t.Errorf("bob TriggerCount = %d, want 2 (must be untouched)", got)
	}

	// Removing an untracked login is a silent no-op.
	s.RemoveUser("nobody")
}

func TestReloadRebuildsWhenPersistedUsersDiffer(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	gh.Profiles[1] = types.Profile{Login: "alice"}
	s, cfg := newTestScheduler(t, gh)

	ctx := context.Background()
	if err := s.AddUser(ctx, types.RawUser{Login: "alice", Type: types.KindUser, ID: 1}, true); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	// Live and persisted sets match: reload is a no-op.
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := s.TriggerCount("alice"); got != 2 {
		t.Errorf("TriggerCount = %d after no-op reload, want 2", got)
	}

	// An external edit disables alice and adds dave.
	if err := cfg.MergeUser("alice", config.UserPatch{Enabled: boolPtr(false)}); err != nil {
		t.Fatalf("MergeUser: %v", err)
	}
	if err := cfg.SetUser(types.User{Login: "dave", Enabled: true}); err != nil {
		t.Fatalf("SetUser: %v", err)
	}

	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := s.TriggerCount("alice"); got != 0 {
		t.Errorf("alice TriggerCount = %d after disable, want 0", got)
	}
	if got := s.TriggerCount("dave"); got != 2 {
		t.Errorf("dave TriggerCount = %d, want 2", got)
	}
}

func TestTeardownCancelsEverything(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	gh.Profiles[1] = types.Profile{Login: "alice"}
	gh.Profiles[2] = types.Profile{Login: "bob"}
	s, _ := newTestScheduler(t, gh)

	ctx := context.Background()
	for _, raw := range []types.RawUser{
		{Login: "alice", Type: types.KindUser, ID: 1},
		{Login: "bob", Type: types.KindUser, ID: 2},
	} {
		if err := s.AddUser(ctx, raw, true); err != nil {
			t.Fatalf("AddUser %s: %v", raw.Login, err)
		}
	}

	s.Teardown()

	if got := len(s.Users()); got != 0 {
		t.Errorf("tracked %d users after teardown, want 0", got)
	}
	if got := len(s.cron.Entries()); got != 0 {
		t.Errorf("%d cron entries survive teardown, want 0", got)
	}
}

func TestDeriveTimezone(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	gh.LastCommits["west"] = time.Date(2026, 1, 5, 12, 0, 0, 0, time.FixedZone("", -8*3600))
	gh.LastCommits["idle"] = time.Time{}

	tests := []struct {
		login string
		want  int
	}{
		{"west", -480},
		{"idle", -420},    // no commits: default
		{"unknown", -420}, // no data at all: default
	}
	for _, tt := range tests {
		if got := deriveTimezone(context.Background(), gh, tt.login, -420); got != tt.want {
			t.Errorf("deriveTimezone(%q) = %d, want %d", tt.login, got, tt.want)
		}
	}
}

func TestFireTime(t *testing.T) {
	tests := []struct {
		name       string
		timeOfDay  string
		userOffset int
		loc        *time.Location
		wantHour   int
		wantMin    int
	}{
		{"utc user utc host", "09:00", 0, time.UTC, 9, 0},
		{"denver user utc host", "09:00", -420, time.UTC, 16, 0},
		{"denver user half hour", "12:30", -420, time.UTC, 19, 30},
		{"india user utc host", "09:00", 330, time.UTC, 3, 30},
		{"same offset host", "12:30", -420, time.FixedZone("", -7*3600), 12, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hour, minute, err := fireTime(tt.timeOfDay, tt.userOffset, tt.loc)
			if err != nil {
				t.Fatalf("fireTime: %v", err)
			}
			if hour != tt.wantHour || minute != tt.wantMin {
				t.Errorf("fireTime = %02d:%02d, want %02d:%02d", hour, minute, tt.wantHour, tt.wantMin)
			}
		})
	}

	if _, _, err := fireTime("25:99", 0, time.UTC); err == nil {
		t.Error("expected error for unparseable report time")
	}
}

func TestUnparseableReportTimeIsSkipped(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	s, cfg := newTestScheduler(t, gh)

	bad := []string{"09:00", "not-a-time"}
	if err := cfg.Merge(config.Partial{ReportTimes: bad}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := cfg.SetUser(types.User{Login: "erin", Enabled: true}); err != nil {
		t.Fatalf("SetUser: %v", err)
	}
	if err := s.AddUser(context.Background(), types.RawUser{Login: "erin", Type: types.KindUser, ID: 5}, true); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	if got := s.TriggerCount("erin"); got != 1 {
		t.Errorf("TriggerCount = %d, want 1 (bad entry skipped, good one kept)", got)
	}
}

func TestRebuildAppliesNewLocalOffset(t *testing.T) {
	gh := testutil.NewFakeGitHub()
	gh.Profiles[7] = types.Profile{Login: "alice", Name: "Alice"}
	gh.LastCommits["alice"] = time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("", -7*3600))
	s, cfg := newTestScheduler(t, gh)

	if err := cfg.Merge(config.Partial{ReportTimes: []string{"09:00"}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := s.AddUser(context.Background(), types.RawUser{Login: "alice", Type: types.KindUser, ID: 7}, true); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	triggerHour := func() int {
		t.Helper()
		entries := s.cron.Entries()
		if len(entries) != 1 {
			t.Fatalf("%d cron entries, want 1", len(entries))
		}
		return entries[0].Schedule.Next(time.Now()).Hour()
	}

	// 09:00 at UTC-7 is 16:00 in the process-local UTC zone.
	if got := triggerHour(); got != 16 {
		t.Fatalf("trigger hour = %d, want 16", got)
	}

	// Process zone shifts by an hour; the rebuilt trigger follows.
	s.loc = time.FixedZone("", -3600)
	if err := s.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if got := triggerHour(); got != 15 {
		t.Errorf("trigger hour after rebuild = %d, want 15", got)
	}
}

func boolPtr(b bool) *bool { return &b }
