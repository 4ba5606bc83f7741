// Package notify fans finished reports out to delivery channels. Channels
// decide for themselves whether a given user is reachable; the dispatcher
// never blocks one channel's failure from reaching the others.
package notify

import (
	"context"
	"log/slog"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// Channel delivers one report to one user over one transport.
type Channel interface {
	// Name identifies the channel in logs.
	Name() string
	// Deliver sends the report. A channel that decides the user is not
	// reachable over its transport returns nil without sending.
	Deliver(ctx context.Context, report types.Report) error
}

// Dispatcher routes non-empty reports to every registered channel.
type Dispatcher struct {
	channels []Channel
}

// NewDispatcher creates a dispatcher with no channels registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register adds a delivery channel. Register all channels before the first
// Dispatch; registration is not synchronized against delivery.
func (d *Dispatcher) Register(ch Channel) {
	d.channels = append(d.channels, ch)
}

// Dispatch delivers the report on every channel and returns how many channels
// succeeded. Empty reports are suppressed entirely. Delivery is best effort;
// a channel's failure is logged and does not stop the remaining channels.
func (d *Dispatcher) Dispatch(ctx context.Context, report types.Report) int {
	if report.Empty() {
		slog.Debug("Report is empty, suppressing delivery", "component", "notify", "user", report.User.Login)
		return 0
	}

	delivered := 0
	for _, ch := range d.channels {
		if err := ch.Deliver(ctx, report); err != nil {
			slog.Warn("Channel delivery failed", "component", "notify",
				"channel", ch.Name(), "user", report.User.Login, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
