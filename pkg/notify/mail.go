package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// MailSender is the outbound mail transport. Message assembly lives here;
// SMTP/API details live behind the interface.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mail delivers reports by email to users that have one on record.
type Mail struct {
	sender MailSender
}

// NewMail creates the mail channel.
func NewMail(sender MailSender) *Mail {
	return &Mail{sender: sender}
}

func (*Mail) Name() string { return "mail" }

// Deliver emails the report. Users without an email address are skipped.
func (m *Mail) Deliver(ctx context.Context, report types.Report) error {
	if report.User.Email == "" {
		slog.Debug("User has no email, skipping mail delivery", "component", "notify", "user", report.User.Login)
		return nil
	}

	subject := fmt.Sprintf("%d pull requests need your attention", report.Total())
	if err := m.sender.Send(ctx, report.User.Email, subject, FormatText(report)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", report.User.Login, err)
	}
	return nil
}
