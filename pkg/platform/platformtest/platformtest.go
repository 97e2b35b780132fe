// Package platformtest provides a scripted in-memory platform.Client.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/elonfeng/chanwatch/pkg/platform"
)

// Channel is one scripted entity on the fake platform.
type Channel struct {
	Entity  platform.Entity
	Members int
	Joined  bool

	// HideID makes lookups by platform id fail, as with an uncached peer.
	HideID bool

	ResolveErr error
	JoinErr    error
	LeaveErr   error
	InfoErr    error
}

// Call records one client invocation.
type Call struct {
	Op     string
	Target string
}

// Client is a platform.Client backed by a list of scripted channels.
type Client struct {
	mu         sync.Mutex
	channels   []*Channel
	calls      []Call
	DialogsErr error
}

// New returns an empty fake platform.
func New() *Client {
	return &Client{}
}

// Add registers a channel and returns it for later mutation by the test.
func (c *Client) Add(ch Channel) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &ch
	c.channels = append(c.channels, p)
	return p
}

// Calls returns the recorded calls, optionally filtered by op.
func (c *Client) Calls(op string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Call
	for _, call := range c.calls {
		if op == "" || call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

// Reset clears the call log.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *Client) record(op, target string) {
	c.calls = append(c.calls, Call{Op: op, Target: target})
}

func (c *Client) find(id platform.Identifier) *Channel {
	for _, ch := range c.channels {
		switch {
		case id.PlatformID != 0:
			if ch.Entity.ID == id.PlatformID && !ch.HideID {
				return ch
			}
		case id.InviteToken != "":
			if ch.Entity.InviteToken == id.InviteToken {
				return ch
			}
		case id.Handle != "":
			if ch.Entity.Handle == id.Handle {
				return ch
			}
		}
	}
	return nil
}

func (c *Client) lookup(e *platform.Entity) *Channel {
	if e.ID != 0 {
		for _, ch := range c.channels {
			if ch.Entity.ID == e.ID {
				return ch
			}
		}
	}
	if e.InviteToken != "" {
		if ch := c.find(platform.ByInvite(e.InviteToken)); ch != nil {
			return ch
		}
	}
	if e.Handle != "" {
		return c.find(platform.ByHandle(e.Handle))
	}
	return nil
}

func (c *Client) Resolve(ctx context.Context, id platform.Identifier) (*platform.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("resolve", id.String())

	ch := c.find(id)
	if ch == nil {
		if id.InviteToken != "" {
			return nil, fmt.Errorf("resolve %s: %w", id, platform.ErrInviteInvalid)
		}
		return nil, fmt.Errorf("resolve %s: %w", id, platform.ErrNotFound)
	}
	if ch.ResolveErr != nil {
		return nil, ch.ResolveErr
	}

	e := ch.Entity
	if id.InviteToken != "" && !ch.Joined {
		e.ID = 0
		e.Kind = platform.KindInvite
	}
	return &e, nil
}

func (c *Client) Join(ctx context.Context, e *platform.Entity) (*platform.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("join", label(e))

	ch := c.lookup(e)
	if ch == nil {
		return nil, platform.ErrNotFound
	}
	if ch.JoinErr != nil {
		return nil, ch.JoinErr
	}
	ch.Joined = true
	joined := ch.Entity
	return &joined, nil
}

func (c *Client) Leave(ctx context.Context, e *platform.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("leave", label(e))

	ch := c.lookup(e)
	if ch == nil {
		return platform.ErrNotFound
	}
	if ch.LeaveErr != nil {
		return ch.LeaveErr
	}
	ch.Joined = false
	return nil
}

func (c *Client) FullInfo(ctx context.Context, e *platform.Entity) (*platform.FullInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("info", label(e))

	ch := c.lookup(e)
	if ch == nil {
		return nil, platform.ErrNotFound
	}
	if ch.InfoErr != nil {
		return nil, ch.InfoErr
	}
	return &platform.FullInfo{Title: ch.Entity.Title, MemberCount: ch.Members}, nil
}

func (c *Client) Dialogs(ctx context.Context) ([]platform.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("dialogs", "")

	if c.DialogsErr != nil {
		return nil, c.DialogsErr
	}
	var out []platform.Entity
	for _, ch := range c.channels {
		if ch.Joined {
			out = append(out, ch.Entity)
		}
	}
	return out, nil
}

func label(e *platform.Entity) string {
	switch {
	case e.ID != 0:
		return fmt.Sprintf("id:%d", e.ID)
	case e.InviteToken != "":
		return "invite:" + e.InviteToken
	default:
		return "@" + e.Handle
	}
}
