package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Change is one channel's member movement during a cycle.
type Change struct {
	ChannelID    int64  `json:"channel_id"`
	Handle       string `json:"handle"`
	Title        string `json:"title"`
	MemberCount  int    `json:"member_count"`
	MemberChange int    `json:"member_change"`
}

// Label returns the title, or the handle when the title is empty.
func (c Change) Label() string {
	if c.Title != "" {
		return c.Title
	}
	return c.Handle
}

// Notification summarizes one completed monitoring cycle.
type Notification struct {
	Title           string    `json:"title"`
	Body            string    `json:"body"`
	RequestedBy     *int64    `json:"requested_by,omitempty"`
	CycleStartedAt  time.Time `json:"cycle_started_at"`
	ChannelsChecked int       `json:"channels_checked"`
	Success         bool      `json:"success"`
	Changes         []Change  `json:"changes"`
}

// TopChanges returns up to n changes ordered by absolute movement. Channels
// that did not move are dropped.
func TopChanges(changes []Change, n int) []Change {
	var moved []Change
	for _, c := range changes {
		if c.MemberChange != 0 {
			moved = append(moved, c)
		}
	}
	sort.SliceStable(moved, func(i, j int) bool {
		return abs(moved[i].MemberChange) > abs(moved[j].MemberChange)
	})
	if len(moved) > n {
		moved = moved[:n]
	}
	return moved
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
