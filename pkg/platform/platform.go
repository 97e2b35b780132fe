// Package platform is the messaging-platform capability the worker consumes,
// with identifier parsing and the Bot API and public preview adapters.
package platform

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies what an identifier resolved to.
type Kind string

const (
	KindChannel Kind = "channel"
	KindChat    Kind = "chat"
	KindUser    Kind = "user"
	KindBot     Kind = "bot"
	// KindInvite is an invite preview for a chat the account has not joined yet.
	KindInvite Kind = "invite"
)

var (
	ErrNotFound         = errors.New("entity not found")
	ErrInviteExpired    = errors.New("invite expired")
	ErrInviteInvalid    = errors.New("invite invalid")
	ErrUnsupported      = errors.New("operation not supported by platform driver")
	ErrJoinNotPermitted = errors.New("join not permitted")
	// ErrNotChannel means the identifier resolved to a user or bot.
	ErrNotChannel       = errors.New("entity is not a channel or chat")
)

// Entity is an opaque handle to something on the platform.
type Entity struct {
	ID          int64  `json:"id,omitempty"`
	Handle      string `json:"handle,omitempty"`
	InviteToken string `json:"invite_token,omitempty"`
	Title       string `json:"title"`
	Kind        Kind   `json:"kind"`
}

// IsChannelLike reports whether the entity can be sampled for audience size.
func (e *Entity) IsChannelLike() bool {
	return e != nil && (e.Kind == KindChannel || e.Kind == KindChat)
}

// FullInfo is the current audience snapshot of an entity.
type FullInfo struct {
	Title       string `json:"title"`
	MemberCount int    `json:"member_count"`
}

// Identifier addresses an entity by exactly one of its keys.
type Identifier struct {
	PlatformID  int64
	Handle      string
	InviteToken string
}

// ByID addresses an entity by its platform id.
func ByID(id int64) Identifier { return Identifier{PlatformID: id} }

// ByHandle addresses an entity by its public handle.
func ByHandle(handle string) Identifier { return Identifier{Handle: NormalizeHandle(handle)} }

// ByInvite addresses an entity by invite token.
func ByInvite(token string) Identifier { return Identifier{InviteToken: token} }

func (id Identifier) String() string {
	switch {
	case id.PlatformID != 0:
		return fmt.Sprintf("id:%d", id.PlatformID)
	case id.InviteToken != "":
		return "invite:" + id.InviteToken
	default:
		return "@" + id.Handle
	}
}

// Client is the capability the worker needs from the platform. Errors are
// reported per call and never retried by the client.
type Client interface {
	Resolve(ctx context.Context, id Identifier) (*Entity, error)
	// Join joins the entity and returns it refreshed with id and title.
	// Joining something already joined is not an error.
	Join(ctx context.Context, e *Entity) (*Entity, error)
	Leave(ctx context.Context, e *Entity) error
	FullInfo(ctx context.Context, e *Entity) (*FullInfo, error)
	// Dialogs lists the chats the account is currently in.
	Dialogs(ctx context.Context) ([]Entity, error)
}
