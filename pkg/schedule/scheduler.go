// Package schedule maintains exactly the right set of live daily triggers
// for exactly the right set of enabled users of one installation.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/config"
	"github.com/codeGROOVE-dev/review-reminder/pkg/types"

	"github.com/robfig/cron/v3"
)

// ReportFunc is invoked when a user's trigger fires. Implementations run in
// their own goroutine per firing and must be safe for concurrent invocation
// across users.
type ReportFunc func(user types.User)

// Scheduler owns the recurring triggers for one installation. At most one
// live trigger exists per (enabled user, report time); a user's trigger set
// is always canceled before it is rebuilt.
type Scheduler struct {
	cfg      *config.Store
	profiles ProfileSource
	activity ActivitySource
	fire     ReportFunc
	cron     *cron.Cron
	users    map[string]types.User
	entries  map[string][]cron.EntryID
	loc      *time.Location
	mu       sync.Mutex
}

// New creates a scheduler. The cron pool starts immediately; it is empty
// until users are added.
func New(cfg *config.Store, profiles ProfileSource, activity ActivitySource, fire ReportFunc) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		profiles: profiles,
		activity: activity,
		fire:     fire,
		cron:     cron.New(),
		users:    make(map[string]types.User),
		entries:  make(map[string][]cron.EntryID),
		loc:      time.Local,
	}
	s.cron.Start()
	return s
}

// AddUser registers one member and schedules its triggers. Non-human
// principals are ignored; an already tracked login is a no-op. New users are
// built from the cached record in the config document when present, otherwise
// their profile and timezone are derived and (unless persist is false) merged
// into the config store.
func (s *Scheduler) AddUser(ctx context.Context, raw types.RawUser, persist bool) error {
	if raw.Type != types.KindUser {
		slog.Debug("Ignoring non-user principal", "component", "schedule", "login", raw.Login, "type", raw.Type)
		return nil
	}

	login := types.NormalizeLogin(raw.Login)

	s.mu.Lock()
	if _, tracked := s.users[login]; tracked {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	doc, err := s.cfg.Get()
	if err != nil {
		return err
	}

	user, cached := doc.Users[login]
	if !cached {
		slog.Info("Found new user, fetching details and timezone", "component", "schedule", "user", login)
		user = s.buildUser(ctx, raw, login, doc.DefaultTimezone)
		if persist {
			if err := s.cfg.SetUser(user); err != nil {
				return err
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check: a concurrent add may have won the race.
	if _, tracked := s.users[login]; tracked {
		return nil
	}
	s.users[login] = user
	s.entries[login] = nil
	return s.scheduleLocked(user, doc.ReportTimes)
}

// buildUser derives a fresh user record from external profile and activity data.
func (s *Scheduler) buildUser(ctx context.Context, raw types.RawUser, login string, defaultOffset int) types.User {
	name := raw.Login
	email := ""
	if profile, err := s.profiles.UserByID(ctx, raw.ID); err != nil {
		slog.Warn("Could not fetch profile", "component", "schedule", "user", login, "error", err)
	} else {
		if profile.Name != "" {
			name = profile.Name
		}
		email = profile.Email
	}
	if email == "" {
		slog.Warn("No email found for user", "component", "schedule", "user", login)
	}

	return types.User{
		Login:     login,
		ID:        raw.ID,
		Name:      name,
		Email:     email,
		Timezone:  deriveTimezone(ctx, s.activity, login, defaultOffset),
		SortOrder: types.SortAscending,
		Enabled:   true,
	}
}

// scheduleLocked creates one trigger per report time for an enabled user.
// Callers hold the lock.
func (s *Scheduler) scheduleLocked(user types.User, reportTimes []string) error {
	if !user.Enabled {
		slog.Debug("User disabled, not scheduling triggers", "component", "schedule", "user", user.Login)
		return nil
	}

	for _, timeOfDay := range reportTimes {
		hour, minute, err := fireTime(timeOfDay, user.Timezone, s.loc)
		if err != nil {
			slog.Warn("Skipping unparseable report time", "component", "schedule",
				"user", user.Login, "time", timeOfDay, "error", err)
			continue
		}

		fireUser := user
		id, err := s.cron.AddFunc(fmt.Sprintf("%d %d * * *", minute, hour), func() {
			s.fire(fireUser)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule trigger for %s at %s: %w", user.Login, timeOfDay, err)
		}
		s.entries[user.Login] = append(s.entries[user.Login], id)

		slog.Info("Scheduled daily trigger", "component", "schedule", "user", user.Login,
			"report_time", timeOfDay, "user_offset_min", user.Timezone,
			"local_time", fmt.Sprintf("%02d:%02d", hour, minute))
	}
	return nil
}

// RemoveUser synchronously cancels all of the user's triggers and drops it
// from the live set. Untracked logins are a silent no-op. A report already in
// flight for this user still completes - cancellation only stops future firings.
func (s *Scheduler) RemoveUser(login string) {
	login = types.NormalizeLogin(login)

	s.mu.Lock()
	defer s.mu.Unlock()
	ids, tracked := s.entries[login]
	if !tracked {
		return
	}
	for _, id := range ids {
		s.cron.Remove(id)
	}
	delete(s.entries, login)
	delete(s.users, login)
	slog.Info("Removed user triggers", "component", "schedule", "user", login, "triggers", len(ids))
}

// Users returns the logins currently tracked.
func (s *Scheduler) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	logins := make([]string, 0, len(s.users))
	for login := range s.users {
		logins = append(logins, login)
	}
	return logins
}

// TriggerCount reports the number of live triggers for one login.
func (s *Scheduler) TriggerCount(login string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[types.NormalizeLogin(login)])
}

// Reload compares the live user set against the persisted user map and, if
// they differ, cancels all triggers and rebuilds from the persisted map. Used
// after an external config change was detected.
func (s *Scheduler) Reload() error {
	doc, err := s.cfg.Get()
	if err != nil {
		return err
	}

	s.mu.Lock()
	same := reflect.DeepEqual(s.users, doc.Users)
	s.mu.Unlock()
	if same {
		return nil
	}

	slog.Info("Persisted users differ from live set, rebuilding triggers", "component", "schedule")
	s.Teardown()

	s.mu.Lock()
	defer s.mu.Unlock()
	for login, user := range doc.Users {
		login = types.NormalizeLogin(login)
		user.Login = login
		s.users[login] = user
		s.entries[login] = nil
		if err := s.scheduleLocked(user, doc.ReportTimes); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild cancels and recreates every trigger from the current config. Call
// when the process-local UTC offset shifts (daylight-saving transitions) so
// wall-clock conversions stay correct.
func (s *Scheduler) Rebuild() error {
	doc, err := s.cfg.Get()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for login, ids := range s.entries {
		for _, id := range ids {
			s.cron.Remove(id)
		}
		s.entries[login] = nil
	}
	for _, user := range s.users {
		if err := s.scheduleLocked(user, doc.ReportTimes); err != nil {
			return err
		}
	}
	slog.Info("Rebuilt all triggers", "component", "schedule", "users", len(s.users))
	return nil
}

// Teardown synchronously cancels every trigger for every tracked user. The
// scheduler remains usable; installation removal additionally stops the pool
// via Stop.
func (s *Scheduler) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for login, ids := range s.entries {
		for _, id := range ids {
			s.cron.Remove(id)
		}
		delete(s.entries, login)
		delete(s.users, login)
	}
	slog.Info("Canceled all triggers", "component", "schedule")
}

// Stop tears down all triggers and halts the cron pool.
func (s *Scheduler) Stop() {
	s.Teardown()
	s.cron.Stop()
}
