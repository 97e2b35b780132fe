// Package lifecycle converges the stored membership flags with the
// platform's actual membership.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/elonfeng/chanwatch/internal/store"
	"github.com/elonfeng/chanwatch/pkg/platform"
)

// Result counts the outcome of one reconcile pass.
type Result struct {
	Attempted int
	Succeeded int
}

// Reconciler joins wanted channels and leaves removed ones.
type Reconciler struct {
	store  store.Store
	client platform.Client
	pacer  *rate.Limiter
	log    zerolog.Logger
}

// New creates a reconciler. Joins are spaced at least joinPause apart.
func New(st store.Store, client platform.Client, joinPause time.Duration, log zerolog.Logger) *Reconciler {
	limit := rate.Inf
	if joinPause > 0 {
		limit = rate.Every(joinPause)
	}
	return &Reconciler{
		store:  st,
		client: client,
		pacer:  rate.NewLimiter(limit, 1),
		log:    log,
	}
}

// ReconcileJoins tries to join every active channel that is not yet a
// member. Failures leave the flag unset for the next cycle.
func (r *Reconciler) ReconcileJoins(ctx context.Context) (Result, error) {
	var res Result
	candidates, err := r.store.JoinCandidates(ctx)
	if err != nil {
		return res, fmt.Errorf("list join candidates: %w", err)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	r.log.Info().Int("channels", len(candidates)).Msg("joining channels")
	for i := range candidates {
		if err := r.pacer.Wait(ctx); err != nil {
			return res, err
		}
		res.Attempted++
		if err := r.JoinChannel(ctx, &candidates[i], identifierFor(&candidates[i])); err != nil {
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// JoinChannel resolves id, joins it and records the membership on ch.
func (r *Reconciler) JoinChannel(ctx context.Context, ch *store.Channel, id platform.Identifier) error {
	log := r.log.With().Int64("channel_id", ch.ID).Str("target", id.String()).Logger()

	entity, err := r.client.Resolve(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("resolve for join failed")
		return fmt.Errorf("join %s: %w", id, err)
	}
	if entity.Kind == platform.KindUser || entity.Kind == platform.KindBot {
		log.Info().Str("kind", string(entity.Kind)).Msg("not a channel, skipping join")
		return fmt.Errorf("join %s: %w", id, platform.ErrNotChannel)
	}

	joined, err := r.client.Join(ctx, entity)
	if err != nil {
		log.Warn().Err(err).Msg("join failed")
		return fmt.Errorf("join %s: %w", id, err)
	}

	if err := r.store.MarkJoined(ctx, ch.ID, joined.ID, joined.Title); err != nil {
		log.Error().Err(err).Msg("record membership")
		return err
	}
	log.Info().Str("title", joined.Title).Msg("joined channel")
	return nil
}

// JoinRequested services an explicit join request. Requests for channels
// that are missing or no longer active are dropped.
func (r *Reconciler) JoinRequested(ctx context.Context, channelID int64, identifier string) error {
	ch, err := r.store.GetChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Info().Int64("channel_id", channelID).Msg("join request for unknown channel dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if !ch.IsActive {
		r.log.Info().Int64("channel_id", channelID).Msg("join request for removed channel dropped")
		return nil
	}

	id := platform.ParseIdentifier(identifier).Identifier()
	return r.JoinChannel(ctx, ch, id)
}

// ReconcileLeaves leaves every removed channel still marked as a member.
// The flag is cleared whatever the platform says.
func (r *Reconciler) ReconcileLeaves(ctx context.Context) (Result, error) {
	var res Result
	candidates, err := r.store.LeaveCandidates(ctx)
	if err != nil {
		return res, fmt.Errorf("list leave candidates: %w", err)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	r.log.Info().Int("channels", len(candidates)).Msg("leaving removed channels")
	for i := range candidates {
		res.Attempted++
		if err := r.LeaveChannel(ctx, &candidates[i]); err == nil {
			res.Succeeded++
		}
	}
	return res, nil
}

// LeaveChannel leaves ch on the platform and clears its membership flag
// even when the leave itself fails.
func (r *Reconciler) LeaveChannel(ctx context.Context, ch *store.Channel) error {
	leaveErr := r.leave(ctx, ch)
	if err := r.store.SetMember(ctx, ch.ID, false); err != nil {
		r.log.Error().Err(err).Int64("channel_id", ch.ID).Msg("clear membership")
		return err
	}
	return leaveErr
}

// LeaveRequested services an explicit leave request. When the channel row
// is gone the request handle is used to find the chat.
func (r *Reconciler) LeaveRequested(ctx context.Context, channelID int64, handle string) error {
	ch, err := r.store.GetChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		if handle == "" {
			r.log.Info().Int64("channel_id", channelID).Msg("leave request for unknown channel dropped")
			return nil
		}
		parsed := platform.ParseIdentifier(handle)
		orphan := &store.Channel{ID: channelID, Handle: parsed.Handle}
		if parsed.InviteToken != "" {
			orphan.InviteToken = &parsed.InviteToken
		}
		return r.leave(ctx, orphan)
	}
	if err != nil {
		return err
	}
	return r.LeaveChannel(ctx, ch)
}

func (r *Reconciler) leave(ctx context.Context, ch *store.Channel) error {
	log := r.log.With().Int64("channel_id", ch.ID).Str("handle", ch.Handle).Logger()

	entity, err := r.locate(ctx, ch)
	if err != nil {
		log.Warn().Err(err).Msg("cannot find channel to leave")
		return fmt.Errorf("leave %s: %w", ch.Handle, err)
	}
	if err := r.client.Leave(ctx, entity); err != nil {
		log.Warn().Err(err).Msg("leave failed")
		return fmt.Errorf("leave %s: %w", ch.Handle, err)
	}
	log.Info().Msg("left channel")
	return nil
}

// locate finds the joined entity for ch, trying its platform id, the list
// of joined chats, its public handle and finally its invite token.
func (r *Reconciler) locate(ctx context.Context, ch *store.Channel) (*platform.Entity, error) {
	pid := ch.PlatformIDValue()
	isLink := platform.IsInviteLink(ch.Handle)

	if pid != 0 {
		e, err := r.client.Resolve(ctx, platform.ByID(pid))
		if err == nil {
			return e, nil
		}
		r.log.Debug().Err(err).Int64("platform_id", pid).Msg("lookup by id failed")
	}

	dialogs, err := r.client.Dialogs(ctx)
	switch {
	case err == nil:
		handle := platform.NormalizeHandle(ch.Handle)
		for i := range dialogs {
			d := &dialogs[i]
			if pid != 0 && d.ID == pid {
				return d, nil
			}
			if !isLink && handle != "" && d.Handle == handle {
				return d, nil
			}
		}
	case !errors.Is(err, platform.ErrUnsupported):
		r.log.Debug().Err(err).Msg("list dialogs failed")
	}

	if !isLink && ch.Handle != "" {
		e, err := r.client.Resolve(ctx, platform.ByHandle(ch.Handle))
		if err == nil {
			return e, nil
		}
		r.log.Debug().Err(err).Msg("lookup by handle failed")
	}

	if token := ch.Invite(); token != "" {
		e, err := r.client.Resolve(ctx, platform.ByInvite(token))
		if err == nil && e.Kind != platform.KindInvite {
			return e, nil
		}
		if err != nil {
			r.log.Debug().Err(err).Msg("lookup by invite failed")
		}
	}

	return nil, platform.ErrNotFound
}

// identifierFor picks how a stored channel is resolved for joining.
func identifierFor(ch *store.Channel) platform.Identifier {
	if token := ch.Invite(); token != "" {
		return platform.ByInvite(token)
	}
	return platform.ByHandle(ch.Handle)
}
