// Package stats samples channel audiences and appends them to the store as
// deltas against the previous observation.
package stats

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/elonfeng/chanwatch/internal/store"
	"github.com/elonfeng/chanwatch/pkg/platform"
)

// Sample is one raw observation before deltas are applied. Views and posts
// are not exposed by the platform at this scope and are always zero.
type Sample struct {
	Title       string
	MemberCount int
	ViewsCount  int
	PostsCount  int
	PlatformID  int64
}

// Collector reads live audience figures from the platform.
type Collector struct {
	store  store.Store
	client platform.Client
	log    zerolog.Logger
}

func NewCollector(st store.Store, client platform.Client, log zerolog.Logger) *Collector {
	return &Collector{store: st, client: client, log: log}
}

// Sample observes ch. It returns platform.ErrNotChannel when ch resolves to a
// user or bot, which is an expected outcome rather than a failure. The stored
// title and platform id are corrected when the observation differs.
func (c *Collector) Sample(ctx context.Context, ch *store.Channel) (*Sample, error) {
	entity, err := c.resolve(ctx, ch)
	if err != nil {
		return nil, err
	}
	if !entity.IsChannelLike() {
		return nil, fmt.Errorf("sample %s (%s): %w", ch.Handle, entity.Kind, platform.ErrNotChannel)
	}

	info, err := c.client.FullInfo(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("sample %s: full info: %w", ch.Handle, err)
	}

	s := &Sample{
		Title:       info.Title,
		MemberCount: info.MemberCount,
		PlatformID:  entity.ID,
	}
	if s.Title == "" {
		s.Title = entity.Title
	}

	c.correct(ctx, ch, s)
	return s, nil
}

// resolve prefers the stored platform id and falls back to the invite token
// or handle.
func (c *Collector) resolve(ctx context.Context, ch *store.Channel) (*platform.Entity, error) {
	if pid := ch.PlatformIDValue(); pid != 0 {
		entity, err := c.client.Resolve(ctx, platform.ByID(pid))
		if err == nil {
			return entity, nil
		}
		c.log.Debug().Err(err).Int64("platform_id", pid).Msg("lookup by id failed, trying handle")
	}

	id := platform.ByHandle(ch.Handle)
	if token := ch.Invite(); token != "" {
		id = platform.ByInvite(token)
	}
	entity, err := c.client.Resolve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sample %s: resolve: %w", id, err)
	}
	if entity.Kind == platform.KindInvite {
		return nil, fmt.Errorf("sample %s: not joined: %w", id, platform.ErrNotFound)
	}
	return entity, nil
}

func (c *Collector) correct(ctx context.Context, ch *store.Channel, s *Sample) {
	if s.Title != "" && s.Title != ch.Title {
		if err := c.store.UpdateTitle(ctx, ch.ID, s.Title); err != nil {
			c.log.Error().Err(err).Int64("channel_id", ch.ID).Msg("update title")
		} else {
			ch.Title = s.Title
		}
	}
	if s.PlatformID != 0 && s.PlatformID != ch.PlatformIDValue() {
		if err := c.store.UpdatePlatformID(ctx, ch.ID, s.PlatformID); err != nil {
			c.log.Error().Err(err).Int64("channel_id", ch.ID).Msg("update platform id")
		} else {
			if ch.PlatformID != nil {
				prev := *ch.PlatformID
				ch.PreviousPlatformID = &prev
			}
			pid := s.PlatformID
			ch.PlatformID = &pid
		}
	}
}
