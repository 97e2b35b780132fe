package report

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/elonfeng/chanwatch/internal/store"
)

func seed(t *testing.T) (*store.SQLiteStore, map[string]*store.Channel) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	chans := make(map[string]*store.Channel)
	for _, in := range []store.NewChannel{
		{Handle: "golang", Title: "Go", Category: "tech"},
		{Handle: "rustlang", Category: "tech"},
		{Handle: "daily"},
	} {
		ch, _, err := st.AddChannel(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		chans[in.Handle] = ch
	}

	day := func(d, h int) time.Time { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC) }
	samples := []store.StatSample{
		{ChannelID: chans["golang"].ID, RecordedAt: day(1, 9), MemberCount: 1000},
		{ChannelID: chans["golang"].ID, RecordedAt: day(2, 9), MemberCount: 1100, MemberChange: 100, PositiveChange: true},
		{ChannelID: chans["golang"].ID, RecordedAt: day(3, 9), MemberCount: 1210, MemberChange: 110, PositiveChange: true},
		// no sample on day 2 for rustlang
		{ChannelID: chans["rustlang"].ID, RecordedAt: day(1, 9), MemberCount: 500},
		{ChannelID: chans["rustlang"].ID, RecordedAt: day(3, 9), MemberCount: 480, MemberChange: -20},
	}
	for i := range samples {
		if err := st.AddSample(ctx, &samples[i]); err != nil {
			t.Fatal(err)
		}
	}
	return st, chans
}

func findRow(r *Report, handle string) *Row {
	for gi := range r.Groups {
		for ri := range r.Groups[gi].Rows {
			if r.Groups[gi].Rows[ri].Handle == handle {
				return &r.Groups[gi].Rows[ri]
			}
		}
	}
	return nil
}

func TestBuildAnchors(t *testing.T) {
	st, _ := seed(t)
	rep, err := NewBuilder(st).Build(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	if rep.Channels != 3 || rep.TotalMembers != 1690 {
		t.Errorf("totals = %d channels %d members", rep.Channels, rep.TotalMembers)
	}

	gol := findRow(rep, "golang")
	if gol == nil {
		t.Fatal("golang missing")
	}
	if gol.ChangeSinceYesterday == nil || *gol.ChangeSinceYesterday != 110 {
		t.Errorf("golang since yesterday = %v, want 110", gol.ChangeSinceYesterday)
	}
	if gol.ChangeSinceFirst == nil || *gol.ChangeSinceFirst != 210 {
		t.Errorf("golang since first = %v, want 210", gol.ChangeSinceFirst)
	}
	if gol.ChangePercent < 9.99 || gol.ChangePercent > 10.01 {
		t.Errorf("golang percent = %f, want 10", gol.ChangePercent)
	}

	rust := findRow(rep, "rustlang")
	if rust.ChangeSinceYesterday != nil {
		t.Errorf("rustlang since yesterday = %d, want none for a gap day", *rust.ChangeSinceYesterday)
	}
	if rust.ChangeSinceFirst == nil || *rust.ChangeSinceFirst != -20 {
		t.Errorf("rustlang since first = %v, want -20", rust.ChangeSinceFirst)
	}

	daily := findRow(rep, "daily")
	if daily.LastUpdate != nil || daily.Category != Uncategorized {
		t.Errorf("daily = %+v", daily)
	}
}

func TestBuildGroupsByCategory(t *testing.T) {
	st, _ := seed(t)
	rep, err := NewBuilder(st).Build(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(rep.Groups))
	}
	tech := rep.Groups[1]
	if tech.Category != "tech" || len(tech.Rows) != 2 || tech.TotalMembers != 1690 {
		t.Errorf("tech group = %+v", tech)
	}

	only, err := NewBuilder(st).Build(context.Background(), "tech")
	if err != nil {
		t.Fatal(err)
	}
	if only.Channels != 2 {
		t.Errorf("filtered channels = %d, want 2", only.Channels)
	}
}

func TestRenderers(t *testing.T) {
	st, _ := seed(t)
	rep, err := NewBuilder(st).Build(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	var text bytes.Buffer
	if err := WriteText(&text, rep); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"[tech]", "Go (golang)", "1,210", "+110 (+10.0%)", "never"} {
		if !strings.Contains(text.String(), want) {
			t.Errorf("text missing %q:\n%s", want, text.String())
		}
	}

	var csvOut bytes.Buffer
	if err := WriteCSV(&csvOut, rep); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(csvOut.String()), "\n")
	if len(lines) != 4 {
		t.Errorf("csv lines = %d, want header + 3", len(lines))
	}

	var js bytes.Buffer
	if err := WriteJSON(&js, rep); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(js.String(), `"change_since_first": 210`) {
		t.Errorf("json missing anchor:\n%s", js.String())
	}
}

func TestEmptyReport(t *testing.T) {
	var buf bytes.Buffer
	WriteText(&buf, &Report{})
	if !strings.Contains(buf.String(), "No active channels") {
		t.Errorf("got %q", buf.String())
	}
}
