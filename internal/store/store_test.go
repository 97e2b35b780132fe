package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addChannel(t *testing.T, s *SQLiteStore, handle string) *Channel {
	t.Helper()
	ch, _, err := s.AddChannel(context.Background(), NewChannel{Handle: handle, Title: handle})
	if err != nil {
		t.Fatalf("add channel %s: %v", handle, err)
	}
	return ch
}

func TestAddChannelRejectsActiveDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addChannel(t, s, "golang")
	_, _, err := s.AddChannel(ctx, NewChannel{Handle: "golang"})
	if !errors.Is(err, ErrChannelExists) {
		t.Fatalf("err = %v, want ErrChannelExists", err)
	}
}

func TestAddChannelReactivatesRemoved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := addChannel(t, s, "golang")
	if err := s.SetMember(ctx, ch.ID, true); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveChannel(ctx, ch.ID); err != nil {
		t.Fatal(err)
	}

	got, reactivated, err := s.AddChannel(ctx, NewChannel{Handle: "golang", Category: "tech"})
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if !reactivated {
		t.Error("expected reactivated = true")
	}
	if got.ID != ch.ID {
		t.Errorf("id = %d, want %d", got.ID, ch.ID)
	}
	if !got.IsActive || !got.IsMember {
		t.Errorf("active=%v member=%v, want both true", got.IsActive, got.IsMember)
	}
	if got.Title != "golang" {
		t.Errorf("title = %q, want kept %q", got.Title, "golang")
	}
	if got.CategoryName() != "tech" {
		t.Errorf("category = %q, want tech", got.CategoryName())
	}

	cats, err := s.ListCategories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 1 || cats[0] != "tech" {
		t.Errorf("categories = %v, want [tech]", cats)
	}
}

func TestCandidateQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fresh := addChannel(t, s, "fresh")
	joined := addChannel(t, s, "joined")
	removed := addChannel(t, s, "removed")

	s.SetMember(ctx, joined.ID, true)
	s.SetMember(ctx, removed.ID, true)
	s.RemoveChannel(ctx, removed.ID)

	check := func(name string, got []Channel, want int64) {
		t.Helper()
		if len(got) != 1 || got[0].ID != want {
			t.Errorf("%s = %+v, want only id %d", name, got, want)
		}
	}

	join, err := s.JoinCandidates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	check("join candidates", join, fresh.ID)

	leave, err := s.LeaveCandidates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	check("leave candidates", leave, removed.ID)

	targets, err := s.SampleTargets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	check("sample targets", targets, joined.ID)
}

func TestRemoveMissingChannel(t *testing.T) {
	s := newTestStore(t)
	if err := s.RemoveChannel(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdatePlatformIDKeepsPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ch := addChannel(t, s, "golang")

	if err := s.MarkJoined(ctx, ch.ID, 100, "Go"); err != nil {
		t.Fatal(err)
	}
	// same id again must not clobber previous
	if err := s.UpdatePlatformID(ctx, ch.ID, 100); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetChannel(ctx, ch.ID)
	if got.PlatformIDValue() != 100 || got.PreviousPlatformID != nil {
		t.Fatalf("after first set: id=%v prev=%v", got.PlatformID, got.PreviousPlatformID)
	}
	if got.Title != "Go" || !got.IsMember {
		t.Errorf("title=%q member=%v", got.Title, got.IsMember)
	}

	if err := s.UpdatePlatformID(ctx, ch.ID, 200); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetChannel(ctx, ch.ID)
	if got.PlatformIDValue() != 200 {
		t.Errorf("platform id = %d, want 200", got.PlatformIDValue())
	}
	if got.PreviousPlatformID == nil || *got.PreviousPlatformID != 100 {
		t.Errorf("previous = %v, want 100", got.PreviousPlatformID)
	}
}

func TestMarkJoinedKeepsTitleWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ch := addChannel(t, s, "golang")

	if err := s.MarkJoined(ctx, ch.ID, 0, ""); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetChannel(ctx, ch.ID)
	if got.Title != "golang" || got.PlatformID != nil {
		t.Errorf("title=%q platform=%v", got.Title, got.PlatformID)
	}
}

func TestSampleOrderingAndLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ch := addChannel(t, s, "golang")

	day1 := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	day2b := day2.Add(time.Microsecond)

	for _, smp := range []*StatSample{
		{ChannelID: ch.ID, RecordedAt: day1, MemberCount: 100},
		{ChannelID: ch.ID, RecordedAt: day2, MemberCount: 110},
		{ChannelID: ch.ID, RecordedAt: day2b, MemberCount: 120},
	} {
		if err := s.AddSample(ctx, smp); err != nil {
			t.Fatal(err)
		}
	}

	last, err := s.LastSample(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if last.MemberCount != 120 {
		t.Errorf("last = %d, want 120", last.MemberCount)
	}

	first, err := s.FirstSample(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.MemberCount != 100 {
		t.Errorf("first = %d, want 100", first.MemberCount)
	}

	onDay1, err := s.SampleOnDate(ctx, ch.ID, day1)
	if err != nil {
		t.Fatal(err)
	}
	if onDay1.MemberCount != 100 {
		t.Errorf("day1 = %d, want 100", onDay1.MemberCount)
	}

	onDay2, err := s.SampleOnDate(ctx, ch.ID, day2)
	if err != nil {
		t.Fatal(err)
	}
	if onDay2.MemberCount != 120 {
		t.Errorf("day2 = %d, want latest 120", onDay2.MemberCount)
	}

	_, err = s.SampleOnDate(ctx, ch.ID, day1.AddDate(0, 0, -1))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing day err = %v, want ErrNotFound", err)
	}

	all, err := s.ListSamples(ctx, ch.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].MemberCount != 120 || all[1].MemberCount != 110 {
		t.Errorf("list samples = %+v", all)
	}
}

func TestLastSampleNone(t *testing.T) {
	s := newTestStore(t)
	ch := addChannel(t, s, "golang")
	if _, err := s.LastSample(context.Background(), ch.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResetDeltas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := addChannel(t, s, "a")
	b := addChannel(t, s, "b")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []int64{a.ID, a.ID, b.ID, b.ID} {
		smp := &StatSample{
			ChannelID:      id,
			RecordedAt:     base.Add(time.Duration(i) * time.Minute),
			MemberCount:    500 - i*10,
			MemberChange:   -10,
			PositiveChange: false,
		}
		if i%2 == 1 {
			smp.MemberChange = 25
			smp.PositiveChange = true
		}
		if err := s.AddSample(ctx, smp); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.ResetDeltas(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	last, _ := s.LastSample(ctx, a.ID)
	if last.MemberChange != 0 || last.PositiveChange {
		t.Errorf("a latest not reset: %+v", last)
	}
	if last.MemberCount != 490 {
		t.Errorf("a magnitude = %d, want 490", last.MemberCount)
	}
	first, _ := s.FirstSample(ctx, a.ID)
	if first.MemberChange != -10 {
		t.Errorf("a first change = %d, want untouched -10", first.MemberChange)
	}

	lastB, _ := s.LastSample(ctx, b.ID)
	if lastB.MemberChange != 25 {
		t.Errorf("b touched by single reset: %+v", lastB)
	}

	if err := s.ResetAllDeltas(ctx); err != nil {
		t.Fatal(err)
	}
	lastB, _ = s.LastSample(ctx, b.ID)
	if lastB.MemberChange != 0 || lastB.PositiveChange {
		t.Errorf("b latest not reset: %+v", lastB)
	}
	firstB, _ := s.FirstSample(ctx, b.ID)
	if firstB.MemberChange != -10 {
		t.Errorf("b first change = %d, want untouched -10", firstB.MemberChange)
	}
}

func TestResetDeltasWithoutSamples(t *testing.T) {
	s := newTestStore(t)
	ch := addChannel(t, s, "golang")
	if err := s.ResetDeltas(context.Background(), ch.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLatestStatsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return older }
	news, _, _ := s.AddChannel(ctx, NewChannel{Handle: "news", Category: "media"})
	plain := addChannel(t, s, "plain")
	tech, _, _ := s.AddChannel(ctx, NewChannel{Handle: "tech", Category: "dev"})

	s.AddSample(ctx, &StatSample{ChannelID: tech.ID, RecordedAt: older.Add(time.Hour), MemberCount: 7})

	stats, err := s.LatestStats(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{plain.ID, tech.ID, news.ID}
	if len(stats) != len(want) {
		t.Fatalf("got %d stats, want %d", len(stats), len(want))
	}
	for i, id := range want {
		if stats[i].Channel.ID != id {
			t.Errorf("stats[%d] = %s, want id %d", i, stats[i].Channel.Handle, id)
		}
	}
	if stats[1].Latest == nil || stats[1].Latest.MemberCount != 7 {
		t.Errorf("tech latest = %+v", stats[1].Latest)
	}
	if stats[0].Latest != nil {
		t.Errorf("plain latest = %+v, want nil", stats[0].Latest)
	}

	onlyDev, err := s.LatestStats(ctx, "dev")
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyDev) != 1 || onlyDev[0].Channel.ID != tech.ID {
		t.Errorf("dev stats = %+v", onlyDev)
	}
}

func TestCategoryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	added, err := s.AddCategory(ctx, "empty")
	if err != nil || !added {
		t.Fatalf("add category: added=%v err=%v", added, err)
	}
	if again, _ := s.AddCategory(ctx, "empty"); again {
		t.Error("duplicate category reported as added")
	}

	ch, _, _ := s.AddChannel(ctx, NewChannel{Handle: "golang", Category: "tech"})
	// a channel referencing a category the table lost
	s.db.MustExec("DELETE FROM categories WHERE name = 'tech'")

	n, err := s.SyncCategories(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sync = %d, %v; want 1", n, err)
	}

	count, _ := s.CountChannelsInCategory(ctx, "tech")
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	n, err = s.CleanupCategories(ctx)
	if err != nil || n != 1 {
		t.Fatalf("cleanup = %d, %v; want 1 (empty)", n, err)
	}

	if err := s.DeleteCategory(ctx, "tech"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetChannel(ctx, ch.ID)
	if got.Category != nil {
		t.Errorf("category = %v, want nil", *got.Category)
	}
	cats, _ := s.ListCategories(ctx)
	if len(cats) != 0 {
		t.Errorf("categories = %v, want none", cats)
	}
	if err := s.DeleteCategory(ctx, "tech"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestAdmins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AddAdmin(ctx, 42, "alice")
	if err != nil || !ok {
		t.Fatalf("add admin: %v %v", ok, err)
	}
	if ok, _ := s.AddAdmin(ctx, 42, "alice"); ok {
		t.Error("duplicate admin reported as added")
	}
	if is, _ := s.IsAdmin(ctx, 42); !is {
		t.Error("42 should be admin")
	}
	if is, _ := s.IsAdmin(ctx, 7); is {
		t.Error("7 should not be admin")
	}
	admins, _ := s.ListAdmins(ctx)
	if len(admins) != 1 || admins[0].Username != "alice" {
		t.Errorf("admins = %+v", admins)
	}
}
