package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const channelPage = `<html><body>
<div class="tgme_page_title"><span dir="auto">News Daily</span></div>
<div class="tgme_page_extra">12 345 subscribers</div>
</body></html>`

const groupPage = `<html><body>
<div class="tgme_page_title"><span dir="auto">Dev Chat</span></div>
<div class="tgme_page_extra">1 234 members, 56 online</div>
</body></html>`

const userPage = `<html><body>
<div class="tgme_page_title"><span dir="auto">Some Bot</span></div>
<div class="tgme_page_extra">@some_bot</div>
</body></html>`

const emptyPage = `<html><body><div class="tgme_page_icon"></div></body></html>`

func newPreviewServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newsdaily", "/+Secret42":
			fmt.Fprint(w, channelPage)
		case "/devchat":
			fmt.Fprint(w, groupPage)
		case "/some_bot":
			fmt.Fprint(w, userPage)
		case "/+Expired":
			fmt.Fprint(w, emptyPage)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPreviewResolveKinds(t *testing.T) {
	srv := newPreviewServer(t)
	p := NewPreview(srv.URL, 5*time.Second)
	ctx := context.Background()

	tests := []struct {
		id   Identifier
		kind Kind
	}{
		{ByHandle("newsdaily"), KindChannel},
		{ByInvite("Secret42"), KindChannel},
		{ByHandle("devchat"), KindChat},
		{ByHandle("some_bot"), KindUser},
	}
	for _, tc := range tests {
		e, err := p.Resolve(ctx, tc.id)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.id, err)
		}
		if e.Kind != tc.kind {
			t.Errorf("resolve %s kind = %s, want %s", tc.id, e.Kind, tc.kind)
		}
	}
}

func TestPreviewResolveFailures(t *testing.T) {
	srv := newPreviewServer(t)
	p := NewPreview(srv.URL, 5*time.Second)
	ctx := context.Background()

	if _, err := p.Resolve(ctx, ByHandle("ghost")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := p.Resolve(ctx, ByInvite("Expired")); !errors.Is(err, ErrInviteExpired) {
		t.Errorf("expected ErrInviteExpired, got %v", err)
	}
	if _, err := p.Resolve(ctx, ByID(5)); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for id lookup, got %v", err)
	}
}

func TestPreviewFullInfo(t *testing.T) {
	srv := newPreviewServer(t)
	p := NewPreview(srv.URL, 5*time.Second)

	info, err := p.FullInfo(context.Background(), &Entity{Handle: "newsdaily"})
	if err != nil {
		t.Fatalf("full info: %v", err)
	}
	if info.MemberCount != 12345 || info.Title != "News Daily" {
		t.Errorf("unexpected info %+v", info)
	}

	if _, err := p.FullInfo(context.Background(), &Entity{Handle: "some_bot"}); err == nil {
		t.Error("expected error for page without audience size")
	}
}

func TestParseAudience(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"12 345 subscribers", 12345, true},
		{"1 234 members, 56 online", 1234, true},
		{"1 subscriber", 1, true},
		{"@some_bot", 0, false},
		{"subscribers", 0, false},
	}
	for _, tc := range tests {
		got, ok := parseAudience(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseAudience(%q) = %d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
