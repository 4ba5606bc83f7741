package engine

import (
	"sync/atomic"
	"time"
)

// Metrics counts process-wide engine activity for the health endpoint.
type Metrics struct {
	ReportsGenerated  atomic.Int64
	NotificationsSent atomic.Int64
	lastSync          atomic.Int64
}

// MarkSync records the completion time of a registry sync.
func (m *Metrics) MarkSync(t time.Time) {
	m.lastSync.Store(t.Unix())
}

// LastSync returns the completion time of the most recent registry sync, or
// the zero time if none has completed.
func (m *Metrics) LastSync() time.Time {
	unix := m.lastSync.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
