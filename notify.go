package authcore

import "sync"

// Notification is one user-facing failure descriptor: an HTTP-style status
// code, a short title, and an optional detail line.
type Notification struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// Notifier accumulates user-facing failure descriptors for one request.
// The Manager never returns an error for expected failures (bad
// credentials, absent or consumed refresh key); it returns an empty result
// and records the reason here. Callers inspect the sink to shape the
// response.
type Notifier interface {
	Add(status int, title, detail string)
}

// Collector is the standard [Notifier]: an append-only, concurrency-safe
// list of notifications, one instance per request.
type Collector struct {
	mu    sync.Mutex
	notes []Notification
}

// Add records a notification.
func (c *Collector) Add(status int, title, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, Notification{Status: status, Title: title, Detail: detail})
}

// Notifications returns a copy of everything recorded so far.
func (c *Collector) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.notes))
	copy(out, c.notes)
	return out
}

// HasNotifications reports whether any failure was recorded.
func (c *Collector) HasNotifications() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notes) > 0
}

// NoOpNotifier discards all notifications. It is the fallback when a
// request context carries no sink.
type NoOpNotifier struct{}

// Add discards the notification.
func (NoOpNotifier) Add(int, string, string) {}
