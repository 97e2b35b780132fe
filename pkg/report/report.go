// Package report builds the per-channel growth overview: the latest audience
// of every active channel with its change since the previous sample, since
// yesterday and since tracking began.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/elonfeng/chanwatch/internal/store"
	"github.com/elonfeng/chanwatch/pkg/stats"
)

// Uncategorized labels channels without a category.
const Uncategorized = "uncategorized"

// Row is one channel in a report.
type Row struct {
	ChannelID            int64      `json:"channel_id"`
	Handle               string     `json:"handle"`
	Title                string     `json:"title"`
	Category             string     `json:"category"`
	IsMember             bool       `json:"is_member"`
	MemberCount          int        `json:"member_count"`
	MemberChange         int        `json:"member_change"`
	ChangePercent        float64    `json:"change_percent"`
	ChangeSinceYesterday *int       `json:"change_since_yesterday"`
	ChangeSinceFirst     *int       `json:"change_since_first"`
	LastUpdate           *time.Time `json:"last_update"`
}

// Group collects the rows of one category.
type Group struct {
	Category     string `json:"category"`
	Rows         []Row  `json:"rows"`
	TotalMembers int    `json:"total_members"`
}

// Report is the overview of all active channels.
type Report struct {
	GeneratedAt  time.Time `json:"generated_at"`
	Channels     int       `json:"channels"`
	TotalMembers int       `json:"total_members"`
	Groups       []Group   `json:"groups"`
}

// Builder assembles reports from the store.
type Builder struct {
	store store.Store
	diff  *stats.DiffEngine
	now   func() time.Time
}

func NewBuilder(st store.Store) *Builder {
	return &Builder{store: st, diff: stats.NewDiffEngine(st), now: time.Now}
}

// Build reports on every active channel, or on one category when category
// is non-empty. Groups keep the store's category order.
func (b *Builder) Build(ctx context.Context, category string) (*Report, error) {
	latest, err := b.store.LatestStats(ctx, category)
	if err != nil {
		return nil, err
	}

	rep := &Report{GeneratedAt: b.now().UTC()}
	index := make(map[string]int)

	for _, cs := range latest {
		row, err := b.row(ctx, cs)
		if err != nil {
			return nil, err
		}

		i, ok := index[row.Category]
		if !ok {
			i = len(rep.Groups)
			index[row.Category] = i
			rep.Groups = append(rep.Groups, Group{Category: row.Category})
		}
		rep.Groups[i].Rows = append(rep.Groups[i].Rows, row)
		rep.Groups[i].TotalMembers += row.MemberCount
		rep.Channels++
		rep.TotalMembers += row.MemberCount
	}
	return rep, nil
}

func (b *Builder) row(ctx context.Context, cs store.ChannelStat) (Row, error) {
	ch := cs.Channel
	row := Row{
		ChannelID: ch.ID,
		Handle:    ch.Handle,
		Title:     ch.Title,
		Category:  ch.CategoryName(),
		IsMember:  ch.IsMember,
	}
	if row.Category == "" {
		row.Category = Uncategorized
	}

	s := cs.Latest
	if s == nil {
		return row, nil
	}
	recorded := s.RecordedAt
	row.LastUpdate = &recorded
	row.MemberCount = s.MemberCount
	row.MemberChange = s.MemberChange
	row.ChangePercent = changePercent(s.MemberCount, s.MemberChange)

	yesterday, err := b.diff.SampleOnDate(ctx, ch.ID, s.RecordedAt.AddDate(0, 0, -1))
	switch {
	case err == nil:
		d := s.MemberCount - yesterday.MemberCount
		row.ChangeSinceYesterday = &d
	case !errors.Is(err, store.ErrNotFound):
		return row, err
	}

	first, err := b.diff.FirstSample(ctx, ch.ID)
	switch {
	case err == nil:
		d := s.MemberCount - first.MemberCount
		row.ChangeSinceFirst = &d
	case !errors.Is(err, store.ErrNotFound):
		return row, err
	}
	return row, nil
}

// changePercent is change relative to the audience before it happened.
func changePercent(count, change int) float64 {
	before := count - change
	if before <= 0 {
		return 0
	}
	return float64(change) / float64(before) * 100
}
