package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDismissAfter is how long a notification stays active before it
// auto-dismisses
const DefaultDismissAfter = 5 * time.Second

// Notification is an ephemeral user-facing message
type Notification struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Notifier holds fire-and-forget notifications that auto-dismiss after a
// fixed delay. Notifying never blocks and never fails.
type Notifier struct {
	mu           sync.Mutex
	dismissAfter time.Duration
	active       map[string]Notification
	now          func() time.Time
}

// NewNotifier creates a Notifier. A non-positive dismissAfter uses
// DefaultDismissAfter.
func NewNotifier(dismissAfter time.Duration) *Notifier {
	if dismissAfter <= 0 {
		dismissAfter = DefaultDismissAfter
	}
	return &Notifier{
		dismissAfter: dismissAfter,
		active:       make(map[string]Notification),
		now:          time.Now,
	}
}

// Notify records a notification and returns its ID
func (n *Notifier) Notify(severity Severity, message string) string {
	now := n.now()
	notification := Notification{
		ID:        uuid.NewString(),
		Severity:  severity,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(n.dismissAfter),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.expireLocked(now)
	n.active[notification.ID] = notification
	return notification.ID
}

// Active returns the notifications that have not yet auto-dismissed
func (n *Notifier) Active() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	n.expireLocked(now)

	out := make([]Notification, 0, len(n.active))
	for _, notification := range n.active {
		out = append(out, notification)
	}
	return out
}

// Dismiss removes a notification before its auto-dismiss deadline
func (n *Notifier) Dismiss(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.active, id)
}

// expireLocked drops notifications past their deadline. Expiry is evaluated
// lazily on access instead of with per-notification timers.
func (n *Notifier) expireLocked(now time.Time) {
	for id, notification := range n.active {
		if !now.Before(notification.ExpiresAt) {
			delete(n.active, id)
		}
	}
}
