package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botAPI is the subset of *tgbotapi.BotAPI the adapter calls.
type botAPI interface {
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMembersCount(config tgbotapi.ChatMemberCountConfig) (int, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// BotAPI drives the platform through the Telegram Bot API. A bot cannot join
// chats on its own or open invite links, so Join only confirms an existing
// membership and invite identifiers are unsupported.
type BotAPI struct {
	api    botAPI
	selfID int64
}

// NewBotAPI authenticates with token and returns a Client.
func NewBotAPI(token string, timeout time.Duration) (*BotAPI, error) {
	if token == "" {
		return nil, errors.New("botapi: bot token required (set CHANWATCH_PLATFORM_BOT_TOKEN)")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("botapi: authenticate: %w", err)
	}
	return newBotAPI(bot, bot.Self.ID), nil
}

func newBotAPI(api botAPI, selfID int64) *BotAPI {
	return &BotAPI{api: api, selfID: selfID}
}

func (b *BotAPI) Resolve(ctx context.Context, id Identifier) (*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id.InviteToken != "" && id.PlatformID == 0 {
		return nil, fmt.Errorf("botapi resolve %s: %w", id, ErrUnsupported)
	}

	chat, err := b.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: chatConfig(id.PlatformID, id.Handle)})
	if err != nil {
		return nil, fmt.Errorf("botapi resolve %s: %w", id, mapBotError(err))
	}
	return chatEntity(chat), nil
}

func (b *BotAPI) Join(ctx context.Context, e *Entity) (*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.ID == 0 && e.Handle == "" {
		return nil, fmt.Errorf("botapi join: %w", ErrUnsupported)
	}

	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID:             e.ID,
			SuperGroupUsername: superGroupUsername(e.ID, e.Handle),
			UserID:             b.selfID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("botapi join %s: %w", entityLabel(e), mapBotError(err))
	}
	if member.HasLeft() || member.WasKicked() {
		return nil, fmt.Errorf("botapi join %s: bot must be added by a chat admin: %w", entityLabel(e), ErrJoinNotPermitted)
	}
	return e, nil
}

func (b *BotAPI) Leave(ctx context.Context, e *Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.LeaveChatConfig{ChatID: e.ID}
	if e.ID == 0 {
		cfg.ChannelUsername = "@" + e.Handle
	}
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("botapi leave %s: %w", entityLabel(e), mapBotError(err))
	}
	return nil
}

func (b *BotAPI) FullInfo(ctx context.Context, e *Entity) (*FullInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cc := chatConfig(e.ID, e.Handle)

	chat, err := b.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: cc})
	if err != nil {
		return nil, fmt.Errorf("botapi chat %s: %w", entityLabel(e), mapBotError(err))
	}
	count, err := b.api.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{ChatConfig: cc})
	if err != nil {
		return nil, fmt.Errorf("botapi member count %s: %w", entityLabel(e), mapBotError(err))
	}
	return &FullInfo{Title: chat.Title, MemberCount: count}, nil
}

func (b *BotAPI) Dialogs(ctx context.Context) ([]Entity, error) {
	return nil, fmt.Errorf("botapi dialogs: %w", ErrUnsupported)
}

func chatConfig(id int64, handle string) tgbotapi.ChatConfig {
	return tgbotapi.ChatConfig{ChatID: id, SuperGroupUsername: superGroupUsername(id, handle)}
}

func superGroupUsername(id int64, handle string) string {
	if id != 0 || handle == "" {
		return ""
	}
	return "@" + NormalizeHandle(handle)
}

func chatEntity(chat tgbotapi.Chat) *Entity {
	kind := KindUser
	switch {
	case chat.IsChannel():
		kind = KindChannel
	case chat.IsGroup(), chat.IsSuperGroup():
		kind = KindChat
	}
	title := chat.Title
	if title == "" {
		title = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}
	return &Entity{ID: chat.ID, Handle: chat.UserName, Title: title, Kind: kind}
}

func mapBotError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case strings.Contains(msg, "not found"):
			return fmt.Errorf("%s: %w", apiErr.Message, ErrNotFound)
		case strings.Contains(msg, "kicked"), strings.Contains(msg, "not a member"), strings.Contains(msg, "forbidden"):
			return fmt.Errorf("%s: %w", apiErr.Message, ErrJoinNotPermitted)
		}
	}
	return err
}

func entityLabel(e *Entity) string {
	if e.Handle != "" {
		return "@" + e.Handle
	}
	return fmt.Sprintf("id:%d", e.ID)
}
