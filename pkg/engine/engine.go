// Package engine composes the per-installation machinery: config store,
// user scheduler, report generator, and notification dispatcher. A registry
// keeps exactly one running engine per installation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/cache"
	"github.com/codeGROOVE-dev/review-reminder/pkg/config"
	"github.com/codeGROOVE-dev/review-reminder/pkg/notify"
	"github.com/codeGROOVE-dev/review-reminder/pkg/ratelimit"
	"github.com/codeGROOVE-dev/review-reminder/pkg/report"
	"github.com/codeGROOVE-dev/review-reminder/pkg/schedule"
	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// GitHubSource is the read-side GitHub surface one engine needs. A
// per-installation *github.Client satisfies it.
type GitHubSource interface {
	OrgMembers(ctx context.Context, org string) ([]types.RawUser, error)
	UserByID(ctx context.Context, id int64) (*types.Profile, error)
	LastCommitTime(ctx context.Context, login string) (time.Time, error)
	SearchPullRequests(ctx context.Context, query string) ([]types.PullRequest, error)
}

// Deps are the collaborators an engine is built from. Limiter and Fetcher
// are shared across all engines so the process-wide search budget holds;
// everything else is scoped to one installation.
type Deps struct {
	GitHub     GitHubSource
	Docs       config.DocumentStore
	Limiter    *ratelimit.Limiter
	Fetcher    *cache.Fetcher
	Dispatcher *notify.Dispatcher
	Metrics    *Metrics
	ConfigOpts config.Options
}

// Engine runs reminders for one installation.
type Engine struct {
	inst       types.Installation
	gh         GitHubSource
	cfg        *config.Store
	sched      *schedule.Scheduler
	gen        *report.Generator
	dispatcher *notify.Dispatcher
	metrics    *Metrics
}

// New wires an engine for one installation. Call Start before routing events
// to it.
func New(inst types.Installation, deps Deps) *Engine {
	e := &Engine{
		inst:       inst,
		gh:         deps.GitHub,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
	}
	e.cfg = config.New(deps.Docs, types.NormalizeLogin(inst.Login), deps.ConfigOpts)
	e.gen = report.New(deps.GitHub, e.cfg, deps.Limiter, deps.Fetcher, inst)
	e.sched = schedule.New(e.cfg, deps.GitHub, deps.GitHub, func(user types.User) {
		e.trigger(context.Background(), user)
	})
	return e
}

// Installation returns the installation this engine serves.
func (e *Engine) Installation() types.Installation {
	return e.inst
}

// Start loads the installation's config and schedules triggers for every
// current member. Organization installations enumerate the member list; user
// installations schedule the account itself.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.cfg.Load(ctx); err != nil {
		return fmt.Errorf("failed to load config for %s: %w", e.inst.Login, err)
	}

	if e.inst.Kind != types.KindOrganization {
		return e.sched.AddUser(ctx, types.RawUser{Login: e.inst.Login, Type: types.KindUser, ID: e.inst.ID}, true)
	}

	members, err := e.gh.OrgMembers(ctx, e.inst.Login)
	if err != nil {
		// Members arrive later via membership events; start degraded.
		slog.Warn("Could not enumerate members, starting without users", "component", "engine",
			"installation", e.inst.Login, "error", err)
		return nil
	}
	for _, member := range members {
		if err := e.sched.AddUser(ctx, member, true); err != nil {
			slog.Warn("Could not add member", "component", "engine",
				"installation", e.inst.Login, "user", member.Login, "error", err)
		}
	}
	slog.Info("Engine started", "component", "engine", "installation", e.inst.Login,
		"kind", e.inst.Kind, "users", len(e.sched.Users()))
	return nil
}

// HandleMemberAdded schedules triggers for a newly added member.
func (e *Engine) HandleMemberAdded(ctx context.Context, raw types.RawUser) error {
	return e.sched.AddUser(ctx, raw, true)
}

// HandleMemberRemoved cancels the member's triggers and drops their record
// from the persisted config.
func (e *Engine) HandleMemberRemoved(login string) error {
	e.sched.RemoveUser(login)
	return e.cfg.RemoveUser(login)
}

// ResyncMembers reconciles live users against current org membership:
// new members get scheduled, departed members are removed. User
// installations never drift.
func (e *Engine) ResyncMembers(ctx context.Context) error {
	if e.inst.Kind != types.KindOrganization {
		return nil
	}
	members, err := e.gh.OrgMembers(ctx, e.inst.Login)
	if err != nil {
		return fmt.Errorf("failed to enumerate members for %s: %w", e.inst.Login, err)
	}

	current := make(map[string]bool, len(members))
	for _, member := range members {
		if member.Type != types.KindUser {
			continue
		}
		current[types.NormalizeLogin(member.Login)] = true
		if err := e.sched.AddUser(ctx, member, true); err != nil {
			slog.Warn("Could not add member during resync", "component", "engine",
				"installation", e.inst.Login, "user", member.Login, "error", err)
		}
	}
	for _, login := range e.sched.Users() {
		if !current[login] {
			if err := e.HandleMemberRemoved(login); err != nil {
				slog.Warn("Could not remove departed member", "component", "engine",
					"installation", e.inst.Login, "user", login, "error", err)
			}
		}
	}
	return nil
}

// HandlePush reacts to a push in the installation's repos. A change to the
// settings repo reloads the config and rebuilds triggers; pushes elsewhere
// are ignored.
func (e *Engine) HandlePush(ctx context.Context, repo string) error {
	changed, err := e.cfg.ReloadIfChanged(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to reload config for %s: %w", e.inst.Login, err)
	}
	if !changed {
		return nil
	}
	slog.Info("Settings changed, reloading schedules", "component", "engine", "installation", e.inst.Login)
	return e.sched.Reload()
}

// trigger is the firing path: generate the user's report and dispatch it.
// Runs on the cron pool; failures stay in this cycle.
func (e *Engine) trigger(ctx context.Context, user types.User) {
	report := e.gen.ReportForUser(ctx, user)
	if e.metrics != nil {
		e.metrics.ReportsGenerated.Add(1)
	}
	if report.Empty() {
		return
	}
	sent := e.dispatcher.Dispatch(ctx, report)
	if e.metrics != nil {
		e.metrics.NotificationsSent.Add(int64(sent))
	}
}

// RebuildSchedules cancels and recreates every trigger from the current
// config. Called when the process-local UTC offset shifts so wall-clock
// conversions stay correct across daylight-saving transitions.
func (e *Engine) RebuildSchedules() error {
	return e.sched.Rebuild()
}

// ReportForUser generates a report on demand, outside any trigger. Used by
// the one-shot CLI.
func (e *Engine) ReportForUser(ctx context.Context, user types.User) types.Report {
	return e.gen.ReportForUser(ctx, user)
}

// Config exposes the engine's config store.
func (e *Engine) Config() *config.Store {
	return e.cfg
}

// Users returns the logins with live triggers.
func (e *Engine) Users() []string {
	return e.sched.Users()
}

// Teardown cancels every trigger, flushes any pending config write, and
// releases the engine's resources. The engine is unusable afterwards.
func (e *Engine) Teardown(ctx context.Context) {
	e.sched.Stop()
	if err := e.cfg.Flush(ctx); err != nil {
		slog.Warn("Could not flush config during teardown", "component", "engine",
			"installation", e.inst.Login, "error", err)
	}
	e.cfg.Close()
	slog.Info("Engine torn down", "component", "engine", "installation", e.inst.Login)
}
