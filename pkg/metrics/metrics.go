package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// Metrics exposes a tiny in-memory counter set for the worker context.
type Metrics struct {
	pushesReceived     atomic.Int64
	notificationsShown atomic.Int64
	acksSent           atomic.Int64
	acksFailed         atomic.Int64
	inboxUpdates       atomic.Int64
	clicks             atomic.Int64
}

// New returns a zeroed Metrics collector.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncPushReceived()      { m.pushesReceived.Add(1) }
func (m *Metrics) IncNotificationShown() { m.notificationsShown.Add(1) }
func (m *Metrics) IncAckSent()           { m.acksSent.Add(1) }
func (m *Metrics) IncAckFailed()         { m.acksFailed.Add(1) }
func (m *Metrics) IncInboxUpdate()       { m.inboxUpdates.Add(1) }
func (m *Metrics) IncClick()             { m.clicks.Add(1) }

// Handler exposes the counters via a very small JSON response so we do not
// need to pull in a heavy metrics dependency for the worker.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "pushes_received": ` + itoa(m.pushesReceived.Load()) + `,
  "notifications_shown": ` + itoa(m.notificationsShown.Load()) + `,
  "acks_sent": ` + itoa(m.acksSent.Load()) + `,
  "acks_failed": ` + itoa(m.acksFailed.Load()) + `,
  "inbox_updates": ` + itoa(m.inboxUpdates.Load()) + `,
  "clicks": ` + itoa(m.clicks.Load()) + `
}`))
	})
}

func itoa(v int64) string {
	return fmt.Sprintf("%d", v)
}
