package queue

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func TestDrainEmpty(t *testing.T) {
	q := newTestQueue(t)
	for _, k := range Kinds {
		data, ok, err := q.Drain(k)
		if ok || err != nil || data != nil {
			t.Errorf("%s: data=%q ok=%v err=%v", k, data, ok, err)
		}
	}
}

func TestPostOverwrites(t *testing.T) {
	q := newTestQueue(t)

	if err := q.PostCheck(11); err != nil {
		t.Fatal(err)
	}
	if err := q.PostCheck(22); err != nil {
		t.Fatal(err)
	}

	req, err := q.DrainCheck()
	if err != nil {
		t.Fatal(err)
	}
	if req == nil || req.RequestedBy == nil || *req.RequestedBy != 22 {
		t.Fatalf("req = %+v, want requester 22", req)
	}

	again, err := q.DrainCheck()
	if err != nil || again != nil {
		t.Errorf("second drain = %+v, %v; want nothing", again, err)
	}
}

func TestCheckWithoutRequester(t *testing.T) {
	q := newTestQueue(t)
	if err := q.PostCheck(0); err != nil {
		t.Fatal(err)
	}
	req, err := q.DrainCheck()
	if err != nil {
		t.Fatal(err)
	}
	if req == nil || req.RequestedBy != nil {
		t.Errorf("req = %+v, want anonymous request", req)
	}
}

func TestMalformedMarkersDiscarded(t *testing.T) {
	q := newTestQueue(t)

	os.WriteFile(q.Path(KindCheck), []byte("not-a-user"), 0o644)
	os.WriteFile(q.Path(KindJoin), []byte(`{"channel_id": 3, "identif`), 0o644)
	os.WriteFile(q.Path(KindLeave), []byte(`{"handle": "golang"}`), 0o644)

	if req, err := q.DrainCheck(); req != nil || err != nil {
		t.Errorf("check = %+v, %v", req, err)
	}
	if req, err := q.DrainJoin(); req != nil || err != nil {
		t.Errorf("join = %+v, %v", req, err)
	}
	if req, err := q.DrainLeave(); req != nil || err != nil {
		t.Errorf("leave = %+v, %v", req, err)
	}

	for _, k := range Kinds {
		if q.Pending(k) {
			t.Errorf("%s marker left behind", k)
		}
	}
}

func TestJoinLeaveRoundTrip(t *testing.T) {
	q := newTestQueue(t)

	if err := q.PostJoin(JoinRequest{ChannelID: 5, Identifier: "https://t.me/+AbC"}); err != nil {
		t.Fatal(err)
	}
	if err := q.PostLeave(LeaveRequest{ChannelID: 9, Handle: "golang"}); err != nil {
		t.Fatal(err)
	}

	join, err := q.DrainJoin()
	if err != nil || join == nil {
		t.Fatalf("join = %+v, %v", join, err)
	}
	if join.ChannelID != 5 || join.Identifier != "https://t.me/+AbC" {
		t.Errorf("join = %+v", join)
	}

	leave, err := q.DrainLeave()
	if err != nil || leave == nil {
		t.Fatalf("leave = %+v, %v", leave, err)
	}
	if leave.ChannelID != 9 || leave.Handle != "golang" {
		t.Errorf("leave = %+v", leave)
	}
}

func TestMarkerWireFormat(t *testing.T) {
	q := newTestQueue(t)
	q.PostJoin(JoinRequest{ChannelID: 1, Identifier: "golang"})

	data, err := os.ReadFile(q.Path(KindJoin))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"channel_id":1,"identifier":"golang"}`
	if string(data) != want {
		t.Errorf("marker = %s, want %s", data, want)
	}
}

func TestDrainExactlyOnce(t *testing.T) {
	q := newTestQueue(t)
	if err := q.PostCheck(7); err != nil {
		t.Fatal(err)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := q.Drain(KindCheck)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				got++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if got != 1 {
		t.Errorf("drained %d times, want 1", got)
	}
}

func TestWatchWakesOnMarker(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- q.Watch(ctx, wake) }()

	// allow the watcher to register before posting
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		q.PostCheck(0)
		select {
		case <-wake:
			cancel()
			if err := <-done; err != nil {
				t.Errorf("watch: %v", err)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no wake-up after posting a marker")
		}
	}
}

func TestKindOf(t *testing.T) {
	if k, ok := KindOf("/data/leave_channel.flag"); !ok || k != KindLeave {
		t.Errorf("KindOf = %q %v", k, ok)
	}
	if _, ok := KindOf("/data/.trigger_check.flag.1234.tmp"); ok {
		t.Error("temp file matched a kind")
	}
}
