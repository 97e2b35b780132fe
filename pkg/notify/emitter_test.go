package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/chanwatch/pkg/alert"
)

func TestEmitOverwritesAndConsume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "check_notification.json")
	e := NewEmitter(path, nil, zerolog.Nop())
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := e.Emit(ctx, nil, start, 0, false, nil); err != nil {
		t.Fatal(err)
	}
	user := int64(42)
	second, err := e.Emit(ctx, &user, start.Add(time.Hour), 7, true, nil)
	if err != nil {
		t.Fatal(err)
	}

	rec, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != second.ID || rec.ChannelsChecked != 7 || !rec.Success {
		t.Errorf("record = %+v, want the second emit", rec)
	}
	if rec.RequestedBy == nil || *rec.RequestedBy != 42 {
		t.Errorf("requested_by = %v", rec.RequestedBy)
	}
	if !rec.CycleStartedAt.Equal(start.Add(time.Hour)) {
		t.Errorf("cycle_started_at = %s", rec.CycleStartedAt)
	}

	if _, err := Consume(path); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); !errors.Is(err, ErrNoRecord) {
		t.Errorf("after consume err = %v, want ErrNoRecord", err)
	}
}

func TestEmitBroadcastFailureKeepsRecord(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "record.json")
	alerts := alert.NewManager([]alert.Notifier{alert.NewWebhook(srv.URL, "")})
	e := NewEmitter(path, alerts, zerolog.Nop())

	changes := []alert.Change{{ChannelID: 1, Handle: "golang", MemberCount: 120, MemberChange: 20}}
	if _, err := e.Emit(context.Background(), nil, time.Now(), 1, true, changes); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if hits != 1 {
		t.Errorf("webhook hits = %d, want 1", hits)
	}
	if _, err := Read(path); err != nil {
		t.Errorf("record missing: %v", err)
	}
}

func TestRecordWireFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.json")
	e := NewEmitter(path, nil, zerolog.Nop())
	e.Emit(context.Background(), nil, time.Now(), 0, false, nil)

	rec, _ := Read(path)
	if rec.RequestedBy != nil {
		t.Errorf("requested_by = %v, want null", *rec.RequestedBy)
	}

	data, _ := readFile(path)
	for _, key := range []string{`"requested_by": null`, `"cycle_started_at"`, `"emitted_at"`, `"channels_checked": 0`, `"success": false`} {
		if !strings.Contains(data, key) {
			t.Errorf("record missing %s:\n%s", key, data)
		}
	}
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}
