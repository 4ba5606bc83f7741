package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// ActivitySource resolves a user's most recent contribution timestamp,
// preserving the UTC offset it was recorded in. *github.Client satisfies it.
type ActivitySource interface {
	LastCommitTime(ctx context.Context, login string) (time.Time, error)
}

// ProfileSource resolves user details. *github.Client satisfies it.
type ProfileSource interface {
	UserByID(ctx context.Context, id int64) (*types.Profile, error)
}

// deriveTimezone looks up the UTC offset (in minutes) of the user's most
// recent commit. Users without commit activity get the installation default.
// The result is cached in the user record indefinitely - staleness is an
// accepted trade-off for API-call economy.
func deriveTimezone(ctx context.Context, activity ActivitySource, login string, defaultOffset int) int {
	last, err := activity.LastCommitTime(ctx, login)
	if err != nil {
		slog.Warn("Could not derive timezone from activity, using default", "component", "schedule",
			"user", login, "default_offset", defaultOffset, "error", err)
		return defaultOffset
	}
	if last.IsZero() {
		slog.Debug("No commits found for user, assuming default timezone", "component", "schedule",
			"user", login, "default_offset", defaultOffset)
		return defaultOffset
	}
	_, seconds := last.Zone()
	return seconds / 60
}

// fireTime converts a wall-clock "HH:MM" in the user's UTC offset (minutes)
// into the hour and minute of the same instant in loc. Daily triggers are
// scheduled at the returned local time.
func fireTime(timeOfDay string, userOffset int, loc *time.Location) (hour, minute int, err error) {
	parsed, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid report time %q: %w", timeOfDay, err)
	}

	userZone := time.FixedZone("user", userOffset*60)
	now := time.Now().In(loc)
	anchored := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, userZone)
	local := anchored.In(loc)
	return local.Hour(), local.Minute(), nil
}
