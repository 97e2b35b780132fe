package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const latestSampleQuery = `
	SELECT * FROM channel_stats
	WHERE channel_id = ?
	ORDER BY recorded_at DESC, id DESC
	LIMIT 1
`

// AddSample appends a sample and sets its ID. Delta fields are stored as given.
func (s *SQLiteStore) AddSample(ctx context.Context, st *StatSample) error {
	if st.RecordedAt.IsZero() {
		st.RecordedAt = s.now()
	}
	st.RecordedAt = st.RecordedAt.UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_stats
			(channel_id, recorded_at, member_count, views_count, posts_count,
			 member_change, views_change, posts_change, positive_change)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, st.ChannelID, st.RecordedAt, st.MemberCount, st.ViewsCount, st.PostsCount,
		st.MemberChange, st.ViewsChange, st.PostsChange, st.PositiveChange)
	if err != nil {
		return fmt.Errorf("add sample %d: %w", st.ChannelID, err)
	}
	st.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) LastSample(ctx context.Context, channelID int64) (*StatSample, error) {
	return s.oneSample(ctx, "last sample", channelID, latestSampleQuery, channelID)
}

func (s *SQLiteStore) FirstSample(ctx context.Context, channelID int64) (*StatSample, error) {
	return s.oneSample(ctx, "first sample", channelID, `
		SELECT * FROM channel_stats
		WHERE channel_id = ?
		ORDER BY recorded_at ASC, id ASC
		LIMIT 1
	`, channelID)
}

// SampleOnDate returns the latest sample whose UTC calendar date equals
// date's. There is no nearest-neighbour fallback.
func (s *SQLiteStore) SampleOnDate(ctx context.Context, channelID int64, date time.Time) (*StatSample, error) {
	day := date.Format(time.DateOnly)
	return s.oneSample(ctx, "sample on "+day, channelID, `
		SELECT * FROM channel_stats
		WHERE channel_id = ? AND date(recorded_at) = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, channelID, day)
}

func (s *SQLiteStore) oneSample(ctx context.Context, op string, channelID int64, query string, args ...any) (*StatSample, error) {
	var st StatSample
	err := s.db.GetContext(ctx, &st, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %d: %w", op, channelID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %d: %w", op, channelID, err)
	}
	return &st, nil
}

// ListSamples returns up to limit samples, newest first.
func (s *SQLiteStore) ListSamples(ctx context.Context, channelID int64, limit int) ([]StatSample, error) {
	if limit <= 0 {
		limit = 100
	}
	var samples []StatSample
	err := s.db.SelectContext(ctx, &samples, `
		SELECT * FROM channel_stats
		WHERE channel_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list samples %d: %w", channelID, err)
	}
	return samples, nil
}

// LatestStats returns every active channel with its latest sample, ordered
// by category and then by most recent activity.
func (s *SQLiteStore) LatestStats(ctx context.Context, category string) ([]ChannelStat, error) {
	channels, err := s.ListChannels(ctx, ChannelListOpts{Active: boolPtr(true), Category: category})
	if err != nil {
		return nil, err
	}

	stats := make([]ChannelStat, 0, len(channels))
	for _, ch := range channels {
		latest, err := s.LastSample(ctx, ch.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		stats = append(stats, ChannelStat{Channel: ch, Latest: latest})
	}

	sortChannelStats(stats)
	return stats, nil
}

// ResetDeltas zeroes the change fields of the channel's latest sample.
// Magnitudes are kept.
func (s *SQLiteStore) ResetDeltas(ctx context.Context, channelID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE channel_stats SET
			member_change = 0, views_change = 0, posts_change = 0, positive_change = 0
		WHERE id = (
			SELECT id FROM channel_stats
			WHERE channel_id = ?
			ORDER BY recorded_at DESC, id DESC
			LIMIT 1
		)
	`, channelID)
	if err != nil {
		return fmt.Errorf("reset deltas %d: %w", channelID, err)
	}
	return affected(res, "reset deltas", channelID)
}

// ResetAllDeltas zeroes the change fields of every channel's latest sample.
func (s *SQLiteStore) ResetAllDeltas(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE channel_stats SET
			member_change = 0, views_change = 0, posts_change = 0, positive_change = 0
		WHERE id = (
			SELECT s2.id FROM channel_stats s2
			WHERE s2.channel_id = channel_stats.channel_id
			ORDER BY s2.recorded_at DESC, s2.id DESC
			LIMIT 1
		)
	`)
	if err != nil {
		return fmt.Errorf("reset all deltas: %w", err)
	}
	return nil
}
