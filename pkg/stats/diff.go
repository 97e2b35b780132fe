package stats

import (
	"context"
	"errors"
	"time"

	"github.com/elonfeng/chanwatch/internal/store"
)

// DiffEngine turns raw samples into stored samples with deltas.
type DiffEngine struct {
	store store.Store
	now   func() time.Time
}

func NewDiffEngine(st store.Store) *DiffEngine {
	return &DiffEngine{store: st, now: time.Now}
}

// Record appends raw as the newest sample of channelID. Deltas are taken
// against the previous sample and are zero when there is none. Prior
// samples are never modified.
func (d *DiffEngine) Record(ctx context.Context, channelID int64, raw Sample) (*store.StatSample, error) {
	prior, err := d.store.LastSample(ctx, channelID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	s := &store.StatSample{
		ChannelID:   channelID,
		RecordedAt:  d.now().UTC(),
		MemberCount: raw.MemberCount,
		ViewsCount:  raw.ViewsCount,
		PostsCount:  raw.PostsCount,
	}
	if prior != nil {
		s.MemberChange = raw.MemberCount - prior.MemberCount
		s.ViewsChange = raw.ViewsCount - prior.ViewsCount
		s.PostsChange = raw.PostsCount - prior.PostsCount
		s.PositiveChange = s.MemberChange > 0 || s.ViewsChange > 0

		// keep per-channel order strict when the clock has not moved
		if !s.RecordedAt.After(prior.RecordedAt) {
			s.RecordedAt = prior.RecordedAt.Add(time.Microsecond)
		}
	}

	if err := d.store.AddSample(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ResetDeltas zeroes the deltas of the channel's latest sample.
func (d *DiffEngine) ResetDeltas(ctx context.Context, channelID int64) error {
	return d.store.ResetDeltas(ctx, channelID)
}

// ResetAll zeroes the deltas of every channel's latest sample.
func (d *DiffEngine) ResetAll(ctx context.Context) error {
	return d.store.ResetAllDeltas(ctx)
}

func (d *DiffEngine) FirstSample(ctx context.Context, channelID int64) (*store.StatSample, error) {
	return d.store.FirstSample(ctx, channelID)
}

// SampleOnDate returns the latest sample on date's UTC calendar day, or
// store.ErrNotFound when that day has none.
func (d *DiffEngine) SampleOnDate(ctx context.Context, channelID int64, date time.Time) (*store.StatSample, error) {
	return d.store.SampleOnDate(ctx, channelID, date.UTC())
}
