package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// ChatPoster is the outbound chat transport.
type ChatPoster interface {
	Post(ctx context.Context, target, text string) error
}

// Chat delivers reports to users with an active chat binding.
type Chat struct {
	poster ChatPoster
}

// NewChat creates the chat channel.
func NewChat(poster ChatPoster) *Chat {
	return &Chat{poster: poster}
}

func (*Chat) Name() string { return "chat" }

// Deliver posts the report to the user's bound channel, or their DM when no
// channel is set. Users without an active binding are skipped.
func (c *Chat) Deliver(ctx context.Context, report types.Report) error {
	binding := report.User.Slack
	if binding == nil || !binding.Active {
		slog.Debug("Chat binding inactive, skipping delivery", "component", "notify", "user", report.User.Login)
		return nil
	}

	target := binding.Channel
	if target == "" {
		if binding.User == "" {
			slog.Debug("Chat binding has no target, skipping delivery", "component", "notify", "user", report.User.Login)
			return nil
		}
		target = "@" + binding.User
	}

	if err := c.poster.Post(ctx, target, FormatText(report)); err != nil {
		return fmt.Errorf("failed to post report for %s: %w", report.User.Login, err)
	}
	return nil
}
